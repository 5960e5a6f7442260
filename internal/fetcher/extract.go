package fetcher

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/shelfwatch/shelfwatch/internal/models"
)

// selectorSet holds the CSS selectors for one platform's product page layout.
// Selectors are tried in order; first non-empty text wins.
type selectorSet struct {
	Title        []string
	Price        []string
	Availability []string
}

var platformSelectors = map[models.Platform]selectorSet{
	models.PlatformAmazon: {
		Title:        []string{"#productTitle", "h1#title span"},
		Price:        []string{"span.a-price span.a-offscreen", "#priceblock_ourprice", "#priceblock_dealprice", "#corePrice_feature_div .a-offscreen"},
		Availability: []string{"#availability span", "#outOfStock .a-color-price"},
	},
	models.PlatformPopmart: {
		Title:        []string{"h1.product-name", ".product-detail-name", "h1[class*='title']"},
		Price:        []string{".product-price", ".price", "span[class*='price']"},
		Availability: []string{".product-status", "button[class*='addCart']", ".sold-out"},
	},
}

// ExtractFields parses product data out of a page body. A page is considered
// parsed when at least the title or the price came out; availability is best
// effort since both platforms hide it behind varying layouts.
func ExtractFields(platform models.Platform, body string) (map[string]string, error) {
	selectors, ok := platformSelectors[platform]
	if !ok {
		return nil, fmt.Errorf("no selectors registered for platform %s", platform)
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to parse document: %w", err)
	}

	fields := make(map[string]string)
	if title := firstText(doc, selectors.Title); title != "" {
		fields["title"] = title
	}
	if price := firstText(doc, selectors.Price); price != "" {
		fields["price"] = price
	}
	if availability := firstText(doc, selectors.Availability); availability != "" {
		fields["availability"] = availability
	}

	if fields["title"] == "" && fields["price"] == "" {
		return nil, fmt.Errorf("no product fields found for platform %s", platform)
	}

	return fields, nil
}

// firstText returns the trimmed text of the first selector that matches a
// non-empty element.
func firstText(doc *goquery.Document, selectors []string) string {
	for _, sel := range selectors {
		if text := strings.TrimSpace(doc.Find(sel).First().Text()); text != "" {
			return text
		}
	}
	return ""
}
