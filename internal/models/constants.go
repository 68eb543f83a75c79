package models

const (
	ThinkTag         = `(?s)<think>.*?(?:</think>|$)`
	ContextSeparator = "\n---\n"

	SpeakerUser      = "user"
	SpeakerAssistant = "assistant"
)

var (
	ContextPromptTemplate = `<document>
%s
</document>
Here is the chunk we want to situate within the whole document
<chunk>
%s
</chunk>
Please give a short succinct context to situate this chunk within the overall document for the purposes of improving search retrieval of the chunk. Answer only with the succinct context and nothing else.
`
)
