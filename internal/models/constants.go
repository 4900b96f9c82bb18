package models

const (
	DefaultK            = 5
	DefaultPreviewWidth = 120
	PreviewPlaceholder  = "..."
	ContextSeparator    = "\n\n"

	// FallbackAnswer is returned without calling the model when retrieval finds nothing.
	FallbackAnswer = "No relevant content was found in the uploaded PDFs. Could you make your question more specific?"
)

var (
	SystemInstruction = "You are an assistant that answers questions about the uploaded PDF documents. " +
		"Base your answer primarily on the document excerpts provided and keep speculation to a minimum."

	// QAPromptTemplate takes the system instruction, the numbered excerpts and the question.
	QAPromptTemplate = `%s

# Document excerpts
%s

# Question
%s

If the excerpts above contain the answer, explain it in detail.
If they are not sufficient, say "information not found" instead of making something up.`

	// ExcerptHeaderTemplate takes the excerpt number, source and page.
	ExcerptHeaderTemplate = "[Excerpt %d] source=%s, page=%d"
)
