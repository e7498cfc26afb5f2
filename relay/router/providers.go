package router

import (
	"strings"

	"github.com/gatewayz/gatewayz/relay/adaptor"
	"github.com/gatewayz/gatewayz/relay/adaptor/alibaba"
	"github.com/gatewayz/gatewayz/relay/adaptor/openai_compatible"
	"github.com/gatewayz/gatewayz/relay/catalog"
)

// BuildAdaptors derives one inference adaptor per catalog gateway. Most
// gateways expose chat completions next to their model listing, so the chat
// URL is derived from the listing URL; gateways without a usable inference
// endpoint are skipped and served through the default aggregator instead.
func BuildAdaptors(gateways []*catalog.Gateway) map[string]adaptor.Adaptor {
	out := make(map[string]adaptor.Adaptor, len(gateways))

	for _, g := range gateways {
		switch {
		case g.Slug == "alibaba":
			out[g.Slug] = alibaba.New()
		case g.Slug == "anthropic":
			out[g.Slug] = openai_compatible.New(openai_compatible.Config{
				Slug:       g.Slug,
				ChatURL:    "https://api.anthropic.com/v1/chat/completions",
				APIKeyEnv:  g.APIKeyEnv,
				AuthHeader: "x-api-key",
				AuthPrefix: "",
				ExtraHeaders: map[string]string{
					"anthropic-version": "2023-06-01",
				},
			})
		case g.ListURL != "":
			out[g.Slug] = openai_compatible.New(openai_compatible.Config{
				Slug:      g.Slug,
				ChatURL:   chatURLFromListing(g.ListURL),
				APIKeyEnv: g.APIKeyEnv,
			})
		}
	}
	return out
}

func chatURLFromListing(listURL string) string {
	return strings.TrimSuffix(listURL, "/models") + "/chat/completions"
}
