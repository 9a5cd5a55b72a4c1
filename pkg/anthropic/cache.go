package anthropic

// BuildCachedSystemBlocks constructs a system prompt block with a cache
// breakpoint. Classification and selection prompts are identical across
// calls, so every call after the first reads the prompt from cache.
func BuildCachedSystemBlocks(text string, ttl string) []SystemBlock {
	if ttl == "" {
		ttl = "5m"
	}
	return []SystemBlock{
		{
			Text:         text,
			CacheControl: &CacheControl{TTL: ttl},
		},
	}
}
