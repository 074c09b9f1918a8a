package topic

// Pattern matches topics by name and type using '*' and '?' wildcards.
// An empty Type matches any type.
type Pattern struct {
	Name string `yaml:"name"`
	Type string `yaml:"type"`
}

// Matches reports whether t is covered by the pattern.
func (p Pattern) Matches(t Topic) bool {
	if !glob(p.Name, t.Name) {
		return false
	}
	return p.Type == "" || glob(p.Type, t.Type)
}

// Filter decides which topics are bridged. A topic passes when it matches an
// Allow pattern (or Allow is empty) and matches no Block pattern.
type Filter struct {
	Allow []Pattern `yaml:"allowlist"`
	Block []Pattern `yaml:"blocklist"`
}

// Permits reports whether t should be bridged.
func (f Filter) Permits(t Topic) bool {
	for _, p := range f.Block {
		if p.Matches(t) {
			return false
		}
	}
	if len(f.Allow) == 0 {
		return true
	}
	for _, p := range f.Allow {
		if p.Matches(t) {
			return true
		}
	}
	return false
}

// glob matches s against pattern. Unlike path.Match, '*' also spans '/',
// which appears in every service topic name.
func glob(pattern, s string) bool {
	px, sx := 0, 0
	starPx, starSx := -1, 0
	for sx < len(s) {
		switch {
		case px < len(pattern) && (pattern[px] == '?' || pattern[px] == s[sx]):
			px++
			sx++
		case px < len(pattern) && pattern[px] == '*':
			starPx, starSx = px, sx
			px++
		case starPx >= 0:
			starSx++
			px, sx = starPx+1, starSx
		default:
			return false
		}
	}
	for px < len(pattern) && pattern[px] == '*' {
		px++
	}
	return px == len(pattern)
}
