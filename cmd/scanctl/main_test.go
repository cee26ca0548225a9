package main

import (
	"encoding/json"
	"os"
	"testing"

	"github.com/tokenforge/scanner/store"
)

func TestPrintScanResultEmitsExpectedShape(t *testing.T) {
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("os.Pipe: %v", err)
	}
	orig := os.Stdout
	os.Stdout = w
	defer func() { os.Stdout = orig }()

	sc := store.Scan{ID: "scan-1", Status: store.ScanCompleted, ErrorKind: ""}
	printScanResult(sc)

	w.Close()
	var buf [1024]byte
	n, _ := r.Read(buf[:])

	var decoded map[string]interface{}
	if err := json.Unmarshal(buf[:n], &decoded); err != nil {
		t.Fatalf("printScanResult did not emit valid JSON: %v (%s)", err, buf[:n])
	}
	if decoded["scanId"] != "scan-1" {
		t.Fatalf("expected scanId scan-1, got %v", decoded["scanId"])
	}
	if decoded["status"] != string(store.ScanCompleted) {
		t.Fatalf("expected status %v, got %v", store.ScanCompleted, decoded["status"])
	}
}

func TestExitCodesMatchOperatorContract(t *testing.T) {
	if exitSuccess != 0 || exitBadArgument != 2 || exitOperationalError != 3 || exitScanFailure != 4 {
		t.Fatalf("exit codes drifted from the documented operator contract: %d %d %d %d",
			exitSuccess, exitBadArgument, exitOperationalError, exitScanFailure)
	}
}
