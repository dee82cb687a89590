package guide

import (
	"fmt"
	"strings"
)

var languageNames = map[string]string{
	"ru": "Russian",
	"en": "English",
	"de": "German",
	"fr": "French",
	"es": "Spanish",
}

func languageName(code string) string {
	if name, ok := languageNames[strings.ToLower(strings.TrimSpace(code))]; ok {
		return name
	}
	if code == "" {
		return "Russian"
	}
	return code
}

func systemPrompt(req Request) string {
	lang := languageName(req.Language)
	if req.Live {
		return fmt.Sprintf(`You are writing location facts for a travel guide. Your mission: find the most surprising, specific detail about places that would make even locals say "I never knew that!"

IMPORTANT: You must respond entirely in %s. All your analysis and final answer must be in %s.

Rules:
- Pick one specific place near the coordinates, not a district or "area near".
- Prefer verified, concrete details: names, dates, numbers.
- Start with the surprise, not the context.`, lang, lang)
	}
	return fmt.Sprintf(`You are writing a quick location fact for a travel guide. Find the single most surprising detail about this exact location.

IMPORTANT: You must respond entirely in %s. All your analysis and final answer must be in %s.`, lang, lang)
}

func userPrompt(req Request) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Analyze these coordinates: %f, %f\n", req.Lat, req.Lon)

	if len(req.Exclude) > 0 {
		b.WriteString("\nAlready mentioned on this walk:\n")
		for _, f := range req.Exclude {
			b.WriteString("- ")
			b.WriteString(f)
			b.WriteString("\n")
		}
		b.WriteString("\nCRITICAL: Find a DIFFERENT place near these coordinates. Do NOT repeat any of the already mentioned locations or facts above.\n")
	}

	wordBudget := "60-80"
	if req.Live {
		wordBudget = "100-120"
	}
	fmt.Fprintf(&b, `
Present your final answer in this format:
<answer>
Location: [Specific name of the place - street address, building name, or precise intersection]
Search: [Geocoder-friendly query: "[Place Name], [Street/District], [City]" with commas, official names, no adjectives]
Interesting fact: [Your %s word fact about THIS EXACT LOCATION. Surprising opening, then a human story with a specific date or name, then what visitors can see today.]
</answer>

Write only the content within <answer> tags.`, wordBudget)
	return b.String()
}
