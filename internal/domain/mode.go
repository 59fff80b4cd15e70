package domain

import "fmt"

type Mode string

const (
	ModeTLDR              Mode = "tldr"
	ModePlainEnglish      Mode = "plain-english"
	ModeKeyTakeaways      Mode = "key-takeaways"
	ModeStructuredOutline Mode = "structured-outline"
	ModeStructuredSummary Mode = "structured-summary"
	ModeFAQs              Mode = "faqs"

	DefaultMode = ModeTLDR
)

//nolint:gochecknoglobals // Closed catalogue of summary modes.
var Modes = []Mode{
	ModeTLDR,
	ModePlainEnglish,
	ModeKeyTakeaways,
	ModeStructuredOutline,
	ModeStructuredSummary,
	ModeFAQs,
}

//nolint:gochecknoglobals // Closed catalogue of summary modes.
var modeInstructions = map[Mode]string{
	ModeTLDR: "Write a 2-3 sentence abstract capturing the single central claim + most consequential " +
		"implication. No lists. Output format: plain Markdown paragraph.",
	ModePlainEnglish: "Rewrite for a general audience at ~Grade 8 readability. Keep all concrete facts, " +
		"avoid jargon. Output format: plain Markdown paragraph.",
	ModeKeyTakeaways: "Return 5-10 bullets. Each bullet ≤20 words. One fact per bullet. Preserve any figures " +
		"and dates. Output format: Markdown bullet list",
	ModeStructuredOutline: "Produce a hierarchical outline mirroring the document's headings (H1-H3 max). " +
		"Use nested Markdown lists. No commentary beyond the outline. Output format: nested Markdown list.",
	ModeStructuredSummary: "Produce a hierarchical outline mirroring the document's headings (H1-H3 max). " +
		"Use Markdown headings. Underneath each heading, provide a brief summary of that section. " +
		"Output format: nested Markdown headings and paragraphs.",
	ModeFAQs: "Derive 5-8 likely reader questions and answer them with 1-2 sentences each. Answers must be " +
		"supported by CONTENT. Output format: Markdown headings and paragraphs.",
}

//nolint:gochecknoglobals // Closed catalogue of summary modes.
var modeLabels = map[Mode]string{
	ModeTLDR:              "TL;DR",
	ModePlainEnglish:      "Plain English",
	ModeKeyTakeaways:      "Key Takeaways",
	ModeStructuredOutline: "Structured Outline",
	ModeStructuredSummary: "Structured Summary",
	ModeFAQs:              "FAQs",
}

func (m Mode) Valid() bool {
	_, ok := modeInstructions[m]
	return ok
}

func (m Mode) Instructions() string {
	return modeInstructions[m]
}

func (m Mode) Label() string {
	if label, ok := modeLabels[m]; ok {
		return label
	}
	return string(m)
}

func ParseMode(s string) (Mode, error) {
	m := Mode(s)
	if !m.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownMode, s)
	}
	return m, nil
}
