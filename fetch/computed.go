package fetch

import (
	"context"
	"fmt"
	"time"

	"github.com/chromedp/chromedp"
)

// FetchComputed renders target in a bounded headless browser and
// synthesizes a computed-style CSS body from the page's applied styles.
// Images are disabled to keep the render fast; fonts and media are still
// loaded.
func FetchComputed(ctx context.Context, target string, timeout time.Duration) ([]byte, error) {
	allocCtx, cancel := chromedp.NewExecAllocator(ctx,
		append(chromedp.DefaultExecAllocatorOptions[:],
			chromedp.Flag("blink-settings", "imagesEnabled=false"),
		)...,
	)
	defer cancel()

	browserCtx, cancel := chromedp.NewContext(allocCtx)
	defer cancel()

	timeoutCtx, cancel := context.WithTimeout(browserCtx, timeout)
	defer cancel()

	var computedCSS string
	script := `(() => {
		const seen = new Set();
		let out = "";
		for (const el of document.querySelectorAll("*")) {
			const cs = getComputedStyle(el);
			const sel = el.tagName.toLowerCase() + (el.className ? "." + String(el.className).split(" ").join(".") : "");
			if (seen.has(sel)) continue;
			seen.add(sel);
			out += sel + "{color:" + cs.color + ";background-color:" + cs.backgroundColor +
				";font-size:" + cs.fontSize + ";font-family:" + cs.fontFamily +
				";margin:" + cs.margin + ";padding:" + cs.padding +
				";border-radius:" + cs.borderRadius + ";box-shadow:" + cs.boxShadow + "}\n";
		}
		return out;
	})()`

	err := chromedp.Run(timeoutCtx,
		chromedp.Navigate(target),
		chromedp.Evaluate(script, &computedCSS),
	)
	if err != nil {
		return nil, fmt.Errorf("computed render failed: %w", err)
	}
	return []byte(computedCSS), nil
}
