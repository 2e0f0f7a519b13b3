package core

import (
	"fmt"
	"strings"

	"promptstudio-backend-go/internal/models"
)

const repairOutputLimit = 2000

// PromptInput is the normalized generation request.
type PromptInput struct {
	UseCase string
	Tone    string
	Topic   string
	Extra   string
	OutLang string // "de" or "en"
	Boost   bool
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

// NormalizeInputs resolves the field aliases older frontends send.
func NormalizeInputs(req *models.GenerateRequest) PromptInput {
	lang := "de"
	if strings.EqualFold(firstNonEmpty(req.OutLang, req.Language, req.Lang), "en") {
		lang = "en"
	}
	return PromptInput{
		UseCase: firstNonEmpty(req.UseCase, req.UseCaseSnake, req.UC, req.Template, req.Type),
		Tone:    firstNonEmpty(req.Tone, req.Style, req.Voice),
		Topic:   firstNonEmpty(req.Topic, req.Goal, req.Subject, req.Title),
		Extra:   firstNonEmpty(req.Extra, req.Context, req.Instructions, req.Prompt),
		OutLang: lang,
		Boost:   req.Boost,
	}
}

func (in PromptInput) langLabel() string {
	if in.OutLang == "en" {
		return "EN"
	}
	return "DE"
}

func orDefault(v, def string) string {
	if v = strings.TrimSpace(v); v != "" {
		return v
	}
	return def
}

// BuildMasterPrompt renders the first pass instruction for the model.
func BuildMasterPrompt(in PromptInput) string {
	var b strings.Builder
	b.WriteString("Du bist ein deutscher Copywriter. Du lieferst fertigen Content.\n")
	b.WriteString("Kein Meta, keine Rückfragen, keine Entschuldigungen.\n\n")
	fmt.Fprintf(&b, "Zielsprache: %s\n", in.langLabel())
	fmt.Fprintf(&b, "Use-Case: %s\n", orDefault(in.UseCase, "Allgemein"))
	fmt.Fprintf(&b, "Ton: %s\n\n", orDefault(in.Tone, "Neutral"))
	b.WriteString("HARTE REGELN:\n")
	b.WriteString("- Keine Einleitungssätze (“Hier ist…”, “Gerne…”, “Es tut mir leid…”).\n")
	b.WriteString("- Keine Sie-Ansprache. Nutze “du” ODER neutral ohne Pronomen.\n")
	b.WriteString("- Keine Emojis.\n")
	b.WriteString("- Keine Buzzwords/Floskeln (z.B. “hochwertig”, “ohne Aufwand”, “Premium”, “revolutionär”).\n")
	b.WriteString("- Schreibe konkret: was + für wen + Ergebnis, in einfachen Worten.\n")
	b.WriteString("- Halte CTA neutral (keine Imperative wie “Sichere dir…”).\n\n")
	fmt.Fprintf(&b, "THEMA:\n%s\n\n", orDefault(in.Topic, "(kein Thema angegeben)"))
	fmt.Fprintf(&b, "FORMAT / Anforderungen:\n%s\n\n", orDefault(in.Extra, "(kein Format vorgegeben)"))
	b.WriteString("Gib ausschließlich den fertigen Output aus.")
	return b.String()
}

// BuildRepairPrompt asks for a full rewrite that avoids every active stem.
// The previous output is included for analysis, truncated.
func BuildRepairPrompt(in PromptInput, previous string, stems, hits []string) string {
	if r := []rune(previous); len(r) > repairOutputLimit {
		previous = string(r[:repairOutputLimit])
	}

	var b strings.Builder
	b.WriteString("Du bist strenger Copy-Editor. Du lieferst FERTIGEN Content, kein Meta, keine Entschuldigungen.\n")
	fmt.Fprintf(&b, "Zielsprache: %s\n", in.langLabel())
	fmt.Fprintf(&b, "Use-Case: %s\n", in.UseCase)
	fmt.Fprintf(&b, "Ton: %s\n", in.Tone)
	fmt.Fprintf(&b, "Thema: %s\n\n", in.Topic)
	b.WriteString("QUALITY GATE (hart):\n")
	b.WriteString("1) Schreibe KOMPLETT NEU. Nicht umformulieren, nichts wiederverwenden.\n")
	b.WriteString("2) Keine Einleitungssätze, keine Erklärungen, kein “Hier ist…”.\n")
	b.WriteString("3) Keine Entschuldigungen / kein “mir fehlen Infos” / kein “I can’t…”.\n")
	b.WriteString("4) Keine Floskeln & kein Marketing-Pathos. Kurz, klar, konkret.\n")
	b.WriteString("5) Keine Sie-Ansprache. Nutze “du” ODER neutral ohne Pronomen.\n")
	b.WriteString("6) VERBOTEN: In deiner finalen Antwort darf KEIN Wortteil aus dieser Liste vorkommen:\n")
	fmt.Fprintf(&b, "%s\n", orDefault(strings.Join(stems, ", "), "(leer)"))
	fmt.Fprintf(&b, "7) Treffer im letzten Output waren: %s. Diese müssen weg.\n", orDefault(strings.Join(hits, ", "), "(keine)"))
	b.WriteString("8) CTA neutral halten. Kein “Sichere dir…”, kein “Jetzt anmelden…”, kein Imperativ.\n")
	b.WriteString("9) Wenn ein verbotener Stamm vorkommt: komplett neu schreiben. Nicht erwähnen.\n\n")
	fmt.Fprintf(&b, "FORMAT / Anforderungen (exakt einhalten):\n%s\n\n", in.Extra)
	b.WriteString("Alter Output (nur zur Analyse, NICHT wiederverwenden):\n")
	fmt.Fprintf(&b, "\"\"\"\n%s\n\"\"\"", previous)
	return b.String()
}
