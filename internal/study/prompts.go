package study

const (
	promptSummarize = "You are a helpful study mentor. Summarize the student's note in concise markdown: " +
		"a one-line overview followed by the key points as a bulleted list."

	// %d is the requested number of questions.
	promptQuiz = "You write exam questions from study notes. Produce %d questions with short, precise answers " +
		"covering the most important concepts. Reply with JSON only: [{\"question\": \"...\", \"answer\": \"...\"}]"

	// %d is the requested number of cards.
	promptFlashcards = "You make flashcards from study notes. Produce %d cards with a term or question on the front " +
		"and a short explanation on the back. Reply with JSON only: [{\"front\": \"...\", \"back\": \"...\"}]"

	promptGrade = "You are a teacher assessing study notes. Grade them from 0 to 10 for clarity, structure, depth " +
		"and completeness, and give brief constructive feedback. Reply with JSON only: {\"grade\": number, \"feedback\": \"...\"}"

	promptImprove = "You are a writing coach. Make the note clearer, grammatically correct and easier to study from " +
		"while keeping its subject matter. Reply with JSON only: {\"improved_text\": \"...\", \"summary\": \"what changed\"}"

	promptImport = "Analyse the text and suggest a title, relevant tags and a subject. " +
		"Reply with JSON only: {\"title\": \"...\", \"tags\": [\"...\"], \"subject\": \"...\"}"

	promptMentor = "You are a helpful study mentor. Explain simply and concretely, using markdown where it helps, " +
		"so the student understands the concepts behind their notes better."

	promptChat = "You are a helpful study mentor. Give clear, educational answers that help students learn. " +
		"Keep answers concise but informative."

	// %d is the requested number of questions.
	promptExam = "You write exam questions from a student's notes for a timed exam simulation. Produce %d relevant " +
		"questions with short, precise answers and rate each as easy, medium or hard. " +
		"Reply with JSON only: [{\"question\": \"...\", \"answer\": \"...\", \"difficulty\": \"medium\"}]"

	promptGradeEstimate = "You estimate the likely exam grade a student would get from their notes, on the 7-step scale " +
		"(12, 10, 7, 4, 2, 0, -3). Judge clarity, coverage and mistakes. Reply with JSON only: " +
		"{\"grade\": number, \"confidence\": number from 0 to 100, \"strengths\": [\"...\"], \"gaps\": [\"...\"], \"next_steps\": [\"...\"]}"

	fallbackQuestion   = "What are the main points of these notes?"
	fallbackCardFront  = "Key points"
	fallbackExamAnswer = "Review your notes to identify the key concepts."
)

var (
	fallbackStrengths = []string{"Basic notes are in place"}
	fallbackGaps      = []string{"The notes need more detail"}
	fallbackNextSteps = []string{"Extend your notes with more examples"}
)
