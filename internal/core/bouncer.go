package core

import (
	"context"
	"fmt"
	"os"
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
	"gopkg.in/yaml.v3"
)

// DefaultBannedStems are the marketing stems blocked when no list is configured.
var DefaultBannedStems = []string{
	"optimier", "steiger", "verbesser", "erleb", "profit", "verpass",
	"chance", "exklus", "konkurrenz", "agentur", "erfolg", "nutz",
	"vorteil", "vorsp", "sicher", "leader", "luxus", "strateg",
}

// RequiredBannedStems catch meta answers and apologies. They are always active.
var RequiredBannedStems = []string{
	"tutmirleid", "bittegib", "benoetig", "mehrinformation",
	"ichkann", "imsorry", "cantcomply", "cannotcomply",
}

var (
	umlauts       = strings.NewReplacer("ä", "ae", "ö", "oe", "ü", "ue", "ß", "ss")
	nonAlnum      = regexp.MustCompile(`[^a-z0-9]+`)
	ctaLabelLine  = regexp.MustCompile(`(?i)^(\s*(?:\d+\)\s*)?)(CTA(?:-Zeile)?\s*:)(.*)$`)
	ctaValueLine  = regexp.MustCompile(`(?i)^(\s*(?:\d+\)\s*)?)(CTA(?:-Zeile)?\s*:)\s*(.*)$`)
	ctaPresent    = regexp.MustCompile(`(?i)(^|\n)\s*(\d+\)\s*)?CTA(?:-Zeile)?\s*:`)
	ctaZeileHint  = regexp.MustCompile(`(?i)CTA-Zeile`)
	ctaHint       = regexp.MustCompile(`(?i)CTA\s*:`)
	bioLine       = regexp.MustCompile(`(?im)^\s*link\s+in\s+(?:der\s+|meiner\s+)?bio\s*$`)
	bioInline     = regexp.MustCompile(`(?i)\blink\s+in\s+(?:der\s+|meiner\s+)?bio\b`)
	manyNewlines  = regexp.MustCompile(`\n{3,}`)
	manyBlanks    = regexp.MustCompile(`[ \t]{2,}`)
	spaceBeforeP  = regexp.MustCompile(`\s+([,.;:!?])`)
	lineSeparator = regexp.MustCompile(`\r?\n`)
)

// NeutralCTA replaces whatever call to action the model wrote.
const NeutralCTA = "Zur Warteliste."

var hotStemReplacements = []struct {
	re *regexp.Regexp
	to string
}{
	{regexp.MustCompile(`(?i)\b(nutz\w*)\b`), "Content erstellen"},
	{regexp.MustCompile(`(?i)\b(vorsprung\w*)\b`), "klarer Schritt nach vorn"},
	{regexp.MustCompile(`(?i)\b(vorsp\w*)\b`), "klarer Schritt nach vorn"},
	{regexp.MustCompile(`(?i)\b(sicher\w*)\b`), "jetzt"},
	{regexp.MustCompile(`(?i)\b(optimier\w*|steiger\w*|verbesser\w*)\b`), "reduzieren"},
	{regexp.MustCompile(`(?i)\b(erfolg\w*)\b`), "Ergebnis"},
	{regexp.MustCompile(`(?i)\b(chanc\w*|verpass\w*|profit\w*|exklus\w*|konkurrenz\w*|agentur\w*|leader\w*|luxus\w*|strateg\w*)\b`), ""},
	{regexp.MustCompile(`(?i)\b(hochwertig\w*|blitzschnell\w*|revolution\w*|premium\w*)\b`), ""},
}

// Normalize folds text for stem matching: lowercase, German umlauts
// transliterated, diacritics removed, everything except [a-z0-9] turned into
// single spaces.
func Normalize(s string) string {
	s = umlauts.Replace(strings.ToLower(s))
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)))
	if stripped, _, err := transform.String(t, s); err == nil {
		s = stripped
	}
	return strings.TrimSpace(nonAlnum.ReplaceAllString(s, " "))
}

func compact(s string) string {
	return strings.ReplaceAll(Normalize(s), " ", "")
}

func dedupe(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}

type stemsFile struct {
	Stems []string `yaml:"stems"`
}

// LoadStems returns the configured base stems: the CSV list when set,
// otherwise the YAML file when set, otherwise DefaultBannedStems.
func LoadStems(csv, path string) ([]string, error) {
	if fromEnv := dedupe(strings.Split(csv, ",")); len(fromEnv) > 0 {
		return fromEnv, nil
	}
	if strings.TrimSpace(path) == "" {
		return DefaultBannedStems, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read stems file: %w", err)
	}
	var f stemsFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse stems file %s: %w", path, err)
	}
	if stems := dedupe(f.Stems); len(stems) > 0 {
		return stems, nil
	}
	return DefaultBannedStems, nil
}

// Bouncer rejects marketing stems and meta answers in generated text.
type Bouncer struct {
	enabled   bool
	maxPasses int
	stems     []string
}

// NewBouncer combines base with RequiredBannedStems. Stems are normalized and
// stored without spaces.
func NewBouncer(enabled bool, maxPasses int, base []string) *Bouncer {
	if maxPasses < 0 {
		maxPasses = 0
	}
	combined := append(append([]string(nil), base...), RequiredBannedStems...)
	stems := make([]string, 0, len(combined))
	for _, s := range dedupe(combined) {
		stems = append(stems, compact(s))
	}
	return &Bouncer{enabled: enabled, maxPasses: maxPasses, stems: dedupe(stems)}
}

func (b *Bouncer) Enabled() bool   { return b.enabled }
func (b *Bouncer) MaxPasses() int  { return b.maxPasses }
func (b *Bouncer) Stems() []string { return append([]string(nil), b.stems...) }

// Scan returns the active stems contained in text, in stem order.
// Matching ignores word boundaries.
func (b *Bouncer) Scan(text string) []string {
	hay := compact(text)
	if hay == "" {
		return nil
	}
	var hits []string
	for _, stem := range b.stems {
		if strings.Contains(hay, stem) {
			hits = append(hits, stem)
		}
	}
	return hits
}

// RewriteFunc regenerates output given the previous attempt and its hits.
type RewriteFunc func(ctx context.Context, previous string, hits []string) (string, error)

// Review runs the rewrite passes, applies the last-mile cleanup and checks
// the result. When enabled, output with remaining hits is never returned;
// a *PolicyError is returned instead. passes is the number of rewrites made.
func (b *Bouncer) Review(ctx context.Context, output, extra string, rewrite RewriteFunc) (result string, passes int, err error) {
	if b.enabled {
		for passes < b.maxPasses {
			hits := b.Scan(output)
			if len(hits) == 0 {
				break
			}
			output, err = rewrite(ctx, output, hits)
			if err != nil {
				return "", passes, err
			}
			passes++
		}
	}

	output = Polish(output, extra)

	if b.enabled {
		if hits := b.Scan(output); len(hits) > 0 {
			return "", passes, &PolicyError{Hits: hits, Passes: passes}
		}
	}
	return output, passes, nil
}

// Polish is the cleanup applied to every output: CTA label and wording,
// hot stem stripping, "link in bio" removal and whitespace tidying.
func Polish(output, extra string) string {
	output = normalizeCTALabel(output, extra)
	output = forceNeutralCTA(output, extra)
	output = stripHotStems(output)

	output = bioLine.ReplaceAllString(output, "")
	output = bioInline.ReplaceAllString(output, "")
	output = manyNewlines.ReplaceAllString(output, "\n\n")
	output = manyBlanks.ReplaceAllString(output, " ")
	output = spaceBeforeP.ReplaceAllString(output, "$1")
	return strings.TrimSpace(output)
}

// ctaLabel returns the label the requested format uses, or "".
func ctaLabel(extra string) string {
	switch {
	case ctaZeileHint.MatchString(extra):
		return "CTA-Zeile"
	case ctaHint.MatchString(extra):
		return "CTA"
	}
	return ""
}

func normalizeCTALabel(output, extra string) string {
	want := ctaLabel(extra)
	if want == "" {
		return output
	}
	lines := lineSeparator.Split(output, -1)
	for i, line := range lines {
		m := ctaLabelLine.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		lines[i] = m[1] + want + ":" + m[3]
	}
	return strings.Join(lines, "\n")
}

func forceNeutralCTA(output, extra string) string {
	want := ctaLabel(extra)
	lines := lineSeparator.Split(output, -1)
	for i, line := range lines {
		m := ctaValueLine.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		label := m[2]
		if want != "" {
			label = want + ":"
		}
		lines[i] = m[1] + label + " " + NeutralCTA
	}
	out := strings.Join(lines, "\n")

	if want != "" && !ctaPresent.MatchString(out) {
		return out + "\n\n" + want + ": " + NeutralCTA
	}
	return out
}

func stripHotStems(s string) string {
	for _, r := range hotStemReplacements {
		s = r.re.ReplaceAllString(s, r.to)
	}
	s = manyBlanks.ReplaceAllString(s, " ")
	s = manyNewlines.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}
