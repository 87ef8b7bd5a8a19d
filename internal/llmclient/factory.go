package llmclient

// BuildFactory constructs the default Factory, ordering providers exactly
// as listed in priority, with repeated names kept at their first
// position. An empty priority selects the default chain "groq, openai,
// dry_run"; a non-empty one is used as given, with nothing appended (the
// CLI entry point passes LLM_PROVIDER followed by that default chain).
// Unknown names in priority are ignored rather than rejected, since an
// operator typo should degrade to the default chain, not crash the run.
func BuildFactory(priority []string, groqAPIKey, groqModel, openAIAPIKey, openAIModel string) Factory {
	available := map[string]Provider{
		"groq":    NewGroqProvider(groqAPIKey, groqModel),
		"openai":  NewOpenAIProvider(openAIAPIKey, openAIModel),
		"dry_run": NewDryRunProvider(),
	}

	order := priority
	if len(order) == 0 {
		order = []string{"groq", "openai", "dry_run"}
	}

	seen := make(map[string]bool, len(order))
	var chain []Provider
	for _, name := range order {
		if seen[name] {
			continue
		}
		seen[name] = true
		if p, ok := available[name]; ok {
			chain = append(chain, p)
		}
	}
	return NewStaticFactory(chain...)
}
