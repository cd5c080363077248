package protocol

import "cortex/internal/sitemap"

var pageTypeNames = map[sitemap.PageType]string{
	sitemap.PageHome:           "Home",
	sitemap.PageProductListing: "ProductListing",
	sitemap.PageProductDetail:  "ProductDetail",
	sitemap.PageArticle:        "Article",
	sitemap.PageSearchResults:  "SearchResults",
	sitemap.PageLogin:          "Login",
	sitemap.PageCart:           "Cart",
	sitemap.PageCheckout:       "Checkout",
	sitemap.PageAccount:        "Account",
	sitemap.PageDocumentation:  "Documentation",
	sitemap.PageFormPage:       "FormPage",
	sitemap.PageAboutPage:      "AboutPage",
	sitemap.PageContactPage:    "ContactPage",
	sitemap.PageFaq:            "Faq",
	sitemap.PagePricingPage:    "PricingPage",
	sitemap.PageUnknown:        "Unknown",
}

func pageTypeName(pt sitemap.PageType) string {
	if n, ok := pageTypeNames[pt]; ok {
		return n
	}
	return "Unknown"
}

func pageTypeByName(name string) (sitemap.PageType, bool) {
	for pt, n := range pageTypeNames {
		if n == name {
			return pt, true
		}
	}
	return 0, false
}
