package catalog

import (
	"strings"
)

// openAICompatible builds a Gateway for the common OpenAI-shaped
// /models listing.
func openAICompatible(slug, listURL, keyEnv string, unit PriceUnit, contextDefault int) *Gateway {
	return &Gateway{
		Slug:           slug,
		ListURL:        listURL,
		APIKeyEnv:      keyEnv,
		RequiresKey:    keyEnv != "",
		Unit:           unit,
		ContextDefault: contextDefault,
	}
}

func staticPrice(prompt, completion float64) RawPricing {
	return RawPricing{
		Prompt:     FlexFloat{Value: prompt, Valid: true},
		Completion: FlexFloat{Value: completion, Valid: true},
	}
}

// Gateways returns the full set of upstream catalogs the aggregator fans
// out to. Keys are read from the environment at fetch time, so a gateway
// without credentials simply drops out of the candidate set.
func Gateways() []*Gateway {
	openrouter := openAICompatible("openrouter", "https://openrouter.ai/api/v1/models", "OPENROUTER_API_KEY", UnitPerToken, 8192)
	// OpenRouter marks legitimately free variants with a ":free" suffix;
	// everything else priced at zero is a catalog bug and gets dropped.
	openrouter.RequiresKey = false
	openrouter.FreeAllowlisted = func(id string) bool {
		return strings.HasSuffix(id, ":free")
	}

	anthropic := openAICompatible("anthropic", "https://api.anthropic.com/v1/models", "ANTHROPIC_API_KEY", UnitPerMillionTokens, 200000)
	anthropic.AuthHeader = "x-api-key"
	anthropic.AuthPrefix = ""
	// The listing endpoint carries no pricing; the manual overlay supplies
	// it, and the static list keeps the flagship models routable when the
	// API is unreachable.
	anthropic.Static = []RawModel{
		{ID: "claude-sonnet-4-5", Name: "Claude Sonnet 4.5", ContextLength: 200000, Pricing: staticPrice(3, 15)},
		{ID: "claude-haiku-4-5", Name: "Claude Haiku 4.5", ContextLength: 200000, Pricing: staticPrice(1, 5)},
		{ID: "claude-opus-4-1", Name: "Claude Opus 4.1", ContextLength: 200000, Pricing: staticPrice(15, 75)},
	}

	vertex := &Gateway{
		Slug:           "vertex",
		Unit:           UnitPerMillionTokens,
		ContextDefault: 1048576,
		// Vertex has no public listing endpoint usable with a plain API
		// key; the supported set is pinned.
		Static: []RawModel{
			{ID: "gemini-2.5-pro", Name: "Gemini 2.5 Pro", ContextLength: 1048576, Pricing: staticPrice(1.25, 10)},
			{ID: "gemini-2.5-flash", Name: "Gemini 2.5 Flash", ContextLength: 1048576, Pricing: staticPrice(0.30, 2.50)},
			{ID: "gemini-2.5-flash-lite", Name: "Gemini 2.5 Flash Lite", ContextLength: 1048576, Pricing: staticPrice(0.10, 0.40)},
		},
	}

	gws := []*Gateway{
		openrouter,
		anthropic,
		vertex,
		NewAlibabaGateway(),

		openAICompatible("together", "https://api.together.xyz/v1/models", "TOGETHER_API_KEY", UnitPerMillionTokens, 8192),
		openAICompatible("deepinfra", "https://api.deepinfra.com/v1/openai/models", "DEEPINFRA_API_KEY", UnitPerToken, 8192),
		openAICompatible("groq", "https://api.groq.com/openai/v1/models", "GROQ_API_KEY", UnitPerMillionTokens, 8192),
		openAICompatible("fireworks", "https://api.fireworks.ai/inference/v1/models", "FIREWORKS_API_KEY", UnitPerMillionTokens, 8192),
		openAICompatible("novita", "https://api.novita.ai/v3/openai/models", "NOVITA_API_KEY", UnitPerMillionTokens, 8192),
		openAICompatible("hyperbolic", "https://api.hyperbolic.xyz/v1/models", "HYPERBOLIC_API_KEY", UnitPerMillionTokens, 8192),
		openAICompatible("cerebras", "https://api.cerebras.ai/v1/models", "CEREBRAS_API_KEY", UnitPerMillionTokens, 8192),
		openAICompatible("sambanova", "https://api.sambanova.ai/v1/models", "SAMBANOVA_API_KEY", UnitPerMillionTokens, 8192),
		openAICompatible("mistral", "https://api.mistral.ai/v1/models", "MISTRAL_API_KEY", UnitPerMillionTokens, 32768),
		openAICompatible("xai", "https://api.x.ai/v1/models", "XAI_API_KEY", UnitPerMillionTokens, 131072),
		openAICompatible("perplexity", "https://api.perplexity.ai/models", "PERPLEXITY_API_KEY", UnitPerMillionTokens, 127072),
		openAICompatible("moonshot", "https://api.moonshot.ai/v1/models", "MOONSHOT_API_KEY", UnitPerMillionTokens, 131072),
		openAICompatible("zhipu", "https://open.bigmodel.cn/api/paas/v4/models", "ZHIPU_API_KEY", UnitPerMillionTokens, 131072),
		openAICompatible("baichuan", "https://api.baichuan-ai.com/v1/models", "BAICHUAN_API_KEY", UnitPerThousandTokens, 32768),
		openAICompatible("minimax", "https://api.minimax.io/v1/models", "MINIMAX_API_KEY", UnitPerMillionTokens, 245760),
		openAICompatible("yi", "https://api.lingyiwanwu.com/v1/models", "YI_API_KEY", UnitPerMillionTokens, 16384),
		openAICompatible("stepfun", "https://api.stepfun.com/v1/models", "STEPFUN_API_KEY", UnitPerMillionTokens, 65536),
		openAICompatible("siliconflow", "https://api.siliconflow.com/v1/models", "SILICONFLOW_API_KEY", UnitPerMillionTokens, 32768),
		openAICompatible("nebius", "https://api.studio.nebius.com/v1/models", "NEBIUS_API_KEY", UnitPerMillionTokens, 131072),
		openAICompatible("lambda", "https://api.lambda.ai/v1/models", "LAMBDA_API_KEY", UnitPerMillionTokens, 131072),
		openAICompatible("parasail", "https://api.parasail.io/v1/models", "PARASAIL_API_KEY", UnitPerMillionTokens, 131072),
		openAICompatible("chutes", "https://llm.chutes.ai/v1/models", "CHUTES_API_KEY", UnitPerMillionTokens, 131072),
		openAICompatible("featherless", "https://api.featherless.ai/v1/models", "FEATHERLESS_API_KEY", UnitPerMillionTokens, 16384),
		openAICompatible("targon", "https://api.targon.com/v1/models", "TARGON_API_KEY", UnitPerMillionTokens, 131072),
		openAICompatible("kluster", "https://api.kluster.ai/v1/models", "KLUSTER_API_KEY", UnitPerMillionTokens, 131072),
		openAICompatible("nscale", "https://inference.api.nscale.com/v1/models", "NSCALE_API_KEY", UnitPerMillionTokens, 131072),
	}

	return gws
}
