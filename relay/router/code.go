package router

import (
	"encoding/json"
	"io"
	"regexp"
	"strings"

	"github.com/Laisky/errors/v2"
	"github.com/Laisky/zap"

	"github.com/gatewayz/gatewayz/common/logger"
	relaymodel "github.com/gatewayz/gatewayz/relay/model"
)

// Code task categories, ordered roughly by complexity.
const (
	CategorySimpleCode      = "simple_code"
	CategoryCodeExplanation = "code_explanation"
	CategoryCodeGeneration  = "code_generation"
	CategoryDebugging       = "debugging"
	CategoryRefactoring     = "refactoring"
	CategoryArchitecture    = "architecture"
	CategoryAgentic         = "agentic"
)

// ModelProfile is one candidate model inside a tier. Prices are USD per
// million tokens; Benchmark is an aggregate coding score on a 0-100 scale.
type ModelProfile struct {
	ID        string   `json:"id"`
	Strengths []string `json:"strengths,omitempty"`
	InputUSD  float64  `json:"input_usd"`
	OutputUSD float64  `json:"output_usd"`
	Benchmark float64  `json:"benchmark"`
}

// CategoryConfig sets the tier policy for one task category. MinTier is the
// quality gate: no mode may route the category to a cheaper tier.
type CategoryConfig struct {
	DefaultTier int `json:"default_tier"`
	MinTier     int `json:"min_tier"`
}

// CodeRouterConfig is the quality-priors document: models per tier (1 is
// the strongest, 4 the cheapest), category tier policy, and the baselines
// used for savings estimates.
type CodeRouterConfig struct {
	Tiers      map[int][]ModelProfile    `json:"tiers"`
	Categories map[string]CategoryConfig `json:"categories"`
	Baseline   ModelProfile              `json:"baseline"`
}

// defaultCodeConfig returns the built-in quality priors.
func defaultCodeConfig() *CodeRouterConfig {
	return &CodeRouterConfig{
		Tiers: map[int][]ModelProfile{
			1: {
				{ID: "claude-opus-4-1", Strengths: []string{"agentic", "architecture", "debugging"}, InputUSD: 15, OutputUSD: 75, Benchmark: 93},
				{ID: "gpt-4o", Strengths: []string{"code_generation", "architecture"}, InputUSD: 2.5, OutputUSD: 10, Benchmark: 88},
			},
			2: {
				{ID: "claude-sonnet-4-5", Strengths: []string{"code_generation", "refactoring", "debugging"}, InputUSD: 3, OutputUSD: 15, Benchmark: 90},
				{ID: "deepseek-v3", Strengths: []string{"code_generation", "debugging"}, InputUSD: 0.27, OutputUSD: 1.10, Benchmark: 85},
			},
			3: {
				{ID: "qwen-2.5-coder-32b", Strengths: []string{"code_generation", "simple_code"}, InputUSD: 0.18, OutputUSD: 0.18, Benchmark: 80},
				{ID: "llama-3.3-70b", Strengths: []string{"code_explanation"}, InputUSD: 0.23, OutputUSD: 0.40, Benchmark: 74},
			},
			4: {
				{ID: "llama-3.1-8b", Strengths: []string{"simple_code"}, InputUSD: 0.03, OutputUSD: 0.05, Benchmark: 55},
				{ID: "gemini-2.5-flash-lite", Strengths: []string{"simple_code", "code_explanation"}, InputUSD: 0.10, OutputUSD: 0.40, Benchmark: 62},
			},
		},
		Categories: map[string]CategoryConfig{
			CategorySimpleCode:      {DefaultTier: 4, MinTier: 4},
			CategoryCodeExplanation: {DefaultTier: 3, MinTier: 4},
			CategoryCodeGeneration:  {DefaultTier: 2, MinTier: 3},
			CategoryDebugging:       {DefaultTier: 2, MinTier: 2},
			CategoryRefactoring:     {DefaultTier: 2, MinTier: 3},
			CategoryArchitecture:    {DefaultTier: 1, MinTier: 2},
			CategoryAgentic:         {DefaultTier: 1, MinTier: 1},
		},
		Baseline: ModelProfile{ID: "gpt-4o", InputUSD: 2.5, OutputUSD: 10},
	}
}

// minimalCodeConfig is the last-resort configuration used when the priors
// document cannot be parsed: one known-cost model, never an unknown one.
func minimalCodeConfig() *CodeRouterConfig {
	fallback := ModelProfile{ID: "claude-sonnet-4-5", InputUSD: 3, OutputUSD: 15, Benchmark: 90}
	return &CodeRouterConfig{
		Tiers: map[int][]ModelProfile{
			1: {fallback}, 2: {fallback}, 3: {fallback}, 4: {fallback},
		},
		Categories: map[string]CategoryConfig{
			CategorySimpleCode:      {DefaultTier: 2, MinTier: 4},
			CategoryCodeExplanation: {DefaultTier: 2, MinTier: 4},
			CategoryCodeGeneration:  {DefaultTier: 2, MinTier: 4},
			CategoryDebugging:       {DefaultTier: 2, MinTier: 4},
			CategoryRefactoring:     {DefaultTier: 2, MinTier: 4},
			CategoryArchitecture:    {DefaultTier: 2, MinTier: 4},
			CategoryAgentic:         {DefaultTier: 1, MinTier: 1},
		},
		Baseline: ModelProfile{ID: "gpt-4o", InputUSD: 2.5, OutputUSD: 10},
	}
}

var (
	codeFenceRe = regexp.MustCompile("```")
	codeDeclRe  = regexp.MustCompile(`(?m)(func\s+\w+\s*\(|def\s+\w+\s*\(|class\s+\w+|function\s+\w+\s*\(|#include\s*<|import\s+[\w.{]+|package\s+\w+|pub\s+fn\s+\w+|SELECT\s+.+\s+FROM\s+)`)
	fileNameRe  = regexp.MustCompile(`\b\w[\w/-]*\.(go|py|js|jsx|ts|tsx|java|rs|c|h|cpp|cs|rb|php|swift|kt|sql|sh|yaml|yml|tf)\b`)
	errTraceRe  = regexp.MustCompile(`(Traceback \(most recent call last\)|panic:|Exception in thread|at [\w.$]+\([\w.]+:\d+\)|segmentation fault|SIGSEGV|goroutine \d+ \[)`)
)

var codeLanguageKeywords = []string{
	"python", "javascript", "typescript", "golang", " go ", "rust", "java",
	"c++", "c#", "ruby", "php", "swift", "kotlin", "sql", "bash", "shell",
	"react", "django", "flask", "spring", "kubernetes", "docker", "terraform",
	"api endpoint", "regex", "algorithm", "unit test", "compile", "runtime",
	"function", "variable", "struct", "interface", "goroutine", "async",
}

// categoryKeywords drive the keyword-scored classification. Longer keywords
// carry more weight since they are more specific.
var categoryKeywords = map[string][]string{
	CategorySimpleCode: {
		"syntax", "one-liner", "snippet", "quick example", "how do i write",
		"what's the syntax",
	},
	CategoryCodeExplanation: {
		"explain", "what does this", "walk me through", "help me understand",
		"what is the purpose", "how does this work",
	},
	CategoryCodeGeneration: {
		"write a", "implement", "create a", "generate", "build a", "add a function",
		"write code", "write me",
	},
	CategoryDebugging: {
		"bug", "error", "fix", "exception", "traceback", "crash", "not working",
		"doesn't work", "stack trace", "panic", "segfault", "unexpected",
	},
	CategoryRefactoring: {
		"refactor", "clean up", "simplify", "optimize", "restructure",
		"improve this code", "make it faster", "reduce duplication",
	},
	CategoryArchitecture: {
		"architecture", "system design", "design a", "microservice", "schema",
		"scalab", "high availability", "data model", "trade-off",
	},
	CategoryAgentic: {
		"step by step", "multi-step", "autonomous", "execute the plan",
		"workflow", "agent", "iterate until", "run the tests and",
	},
}

// CodeSelection is the code router's full decision, exposed on the router
// inspection endpoint.
type CodeSelection struct {
	Category         string  `json:"category"`
	Confidence       float64 `json:"confidence"`
	Mode             string  `json:"mode"`
	Tier             int     `json:"tier"`
	Model            string  `json:"model"`
	EstimatedCostUSD float64 `json:"estimated_cost_usd"`
	BaselineCostUSD  float64 `json:"baseline_cost_usd"`
	SavingsPercent   float64 `json:"savings_percent"`
}

// CodeRouter classifies code-shaped prompts and picks a tier and model.
type CodeRouter struct {
	cfg *CodeRouterConfig
}

// NewCodeRouter builds a router over the built-in quality priors.
func NewCodeRouter() *CodeRouter {
	return &CodeRouter{cfg: defaultCodeConfig()}
}

// NewCodeRouterFromJSON loads a priors document. A document that cannot be
// parsed degrades to the minimal single-model configuration rather than
// routing to models with unknown cost.
func NewCodeRouterFromJSON(r io.Reader) *CodeRouter {
	var cfg CodeRouterConfig
	if err := json.NewDecoder(r).Decode(&cfg); err != nil || len(cfg.Tiers) == 0 {
		logger.Logger.Warn("code router priors unusable, using minimal config",
			zap.Error(errors.Wrap(err, "decode priors")))
		return &CodeRouter{cfg: minimalCodeConfig()}
	}
	if cfg.Baseline.ID == "" {
		cfg.Baseline = defaultCodeConfig().Baseline
	}
	return &CodeRouter{cfg: &cfg}
}

// Config exposes the active priors for the inspection endpoint.
func (r *CodeRouter) Config() *CodeRouterConfig { return r.cfg }

// IsCodePrompt reports whether the conversation looks code-related.
func (r *CodeRouter) IsCodePrompt(messages []relaymodel.Message) bool {
	text := flattenMessages(messages)
	if codeFenceRe.MatchString(text) || codeDeclRe.MatchString(text) {
		return true
	}
	lower := strings.ToLower(text)
	for _, kw := range codeLanguageKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// Classify scores the conversation against every category and returns the
// winner with its confidence.
func (r *CodeRouter) Classify(messages []relaymodel.Message) (category string, confidence float64) {
	text := flattenMessages(messages)
	lower := strings.ToLower(text)

	scores := map[string]float64{}
	for cat, keywords := range categoryKeywords {
		for _, kw := range keywords {
			if strings.Contains(lower, kw) {
				scores[cat] += 1 + float64(len(kw))/8
			}
		}
	}

	// Context adjustments.
	if len(fileNameRe.FindAllString(text, 4)) >= 3 ||
		strings.Contains(lower, "multiple files") || strings.Contains(lower, "across files") {
		scores[CategoryArchitecture] += 2
		scores[CategoryAgentic] += 1.5
	}
	if errTraceRe.MatchString(text) {
		scores[CategoryDebugging] += 2
	}
	if len(messages) > 6 {
		scores[CategoryRefactoring] += 1
		scores[CategoryArchitecture] += 1
	}

	best := CategoryCodeGeneration
	bestScore := 0.0
	// Deterministic iteration for stable tie-breaks.
	for _, cat := range []string{
		CategorySimpleCode, CategoryCodeExplanation, CategoryCodeGeneration,
		CategoryDebugging, CategoryRefactoring, CategoryArchitecture, CategoryAgentic,
	} {
		if s := scores[cat]; s > bestScore {
			best, bestScore = cat, s
		}
	}

	confidence = bestScore / 5
	if confidence > 1 {
		confidence = 1
	}
	return best, confidence
}

// targetTier applies the mode policy, the category quality gate, and the
// [1,4] clamp.
func (r *CodeRouter) targetTier(category, mode string) int {
	cc, ok := r.cfg.Categories[category]
	if !ok {
		cc = CategoryConfig{DefaultTier: 2, MinTier: 4}
	}

	tier := cc.DefaultTier
	switch mode {
	case ModeAgentic:
		tier = 1
	case ModeQuality:
		tier = cc.DefaultTier - 1
	}

	if cc.MinTier > 0 && tier > cc.MinTier {
		tier = cc.MinTier
	}
	if tier < 1 {
		tier = 1
	}
	if tier > 4 {
		tier = 4
	}
	return tier
}

// pickModel scores the tier's candidates: strengths matching the category,
// a price penalty in price mode, a benchmark reward in quality mode. First
// top scorer wins, so ties break stably on config order.
func (r *CodeRouter) pickModel(tier int, category, mode string) ModelProfile {
	candidates := r.cfg.Tiers[tier]
	for probe := tier; len(candidates) == 0 && probe > 1; probe-- {
		candidates = r.cfg.Tiers[probe-1]
	}
	if len(candidates) == 0 {
		return minimalCodeConfig().Tiers[2][0]
	}

	best := candidates[0]
	bestScore := -1e18
	for _, m := range candidates {
		score := 0.0
		for _, s := range m.Strengths {
			if s == category {
				score += 3
			}
		}
		switch mode {
		case ModePrice:
			score -= (2*m.InputUSD + m.OutputUSD) / 3
		case ModeQuality, ModeAgentic:
			score += m.Benchmark / 20
		}
		if score > bestScore {
			best, bestScore = m, score
		}
	}
	return best
}

// Savings estimates use a nominal 1000-prompt/500-completion request.
const (
	savingsPromptTokens     = 1000
	savingsCompletionTokens = 500
)

func nominalCost(m ModelProfile) float64 {
	return (savingsPromptTokens*m.InputUSD + savingsCompletionTokens*m.OutputUSD) / 1e6
}

// Route runs the full pipeline: classify, tier, select, estimate savings.
func (r *CodeRouter) Route(messages []relaymodel.Message, mode string) CodeSelection {
	if mode == "" {
		mode = ModeAuto
	}
	category, confidence := r.Classify(messages)
	tier := r.targetTier(category, mode)
	model := r.pickModel(tier, category, mode)

	cost := nominalCost(model)
	baseline := nominalCost(r.cfg.Baseline)
	savings := 0.0
	if baseline > 0 && cost < baseline {
		savings = (baseline - cost) / baseline * 100
	}

	return CodeSelection{
		Category:         category,
		Confidence:       confidence,
		Mode:             mode,
		Tier:             tier,
		Model:            model.ID,
		EstimatedCostUSD: cost,
		BaselineCostUSD:  baseline,
		SavingsPercent:   savings,
	}
}

func flattenMessages(messages []relaymodel.Message) string {
	var b strings.Builder
	for i := range messages {
		b.WriteString(messages[i].ContentString())
		b.WriteByte('\n')
	}
	return b.String()
}
