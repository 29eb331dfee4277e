// Package prompt assembles the chat messages sent to the model. Builders are
// deterministic string assembly only; nothing here talks to the network.
package prompt

import "github.com/kinemalab/kinema/internal/mistral"

const scriptSystem = `You are an expert Python programmer and Manim developer. Convert the user's theory or question into a complete, runnable Manim Community v0.16+ script.
Rules:
- Include all necessary imports.
- Define exactly one Scene class named GeneratedScene.
- The script must run directly with manim -ql <filename>.py.
- Reply with code only: no explanations, no markdown fences.
- Use smooth transitions (Create, FadeIn, Transform) and contrasting colors.
- Target a duration of 20-30 seconds.`

const simplerInstruction = `The previous explanation was too difficult. Explain the same concept again from scratch, slower and simpler: fewer elements on screen, one idea at a time, plain everyday vocabulary in any on-screen text.`

const quizSystem = `You write one-question comprehension checks. Reply with ONLY a JSON object of the exact form {"question": "...", "answer": "..."} about the user's concept. The answer must be a short factual phrase. No other text, no markdown fences.`

// Script returns the messages for generating a scene script.
func Script(concept string) []mistral.Message {
	return []mistral.Message{
		{Role: "system", Content: scriptSystem},
		{Role: "user", Content: concept},
	}
}

// SimplerScript returns the messages for the gentler re-explanation produced
// after an incorrect quiz answer.
func SimplerScript(concept string) []mistral.Message {
	return []mistral.Message{
		{Role: "system", Content: scriptSystem + "\n" + simplerInstruction},
		{Role: "user", Content: concept},
	}
}

// Quiz returns the messages for generating the follow-up question.
func Quiz(concept string) []mistral.Message {
	return []mistral.Message{
		{Role: "system", Content: quizSystem},
		{Role: "user", Content: concept},
	}
}
