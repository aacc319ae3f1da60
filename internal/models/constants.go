package models

const (
	HistoryHeader = "Conversation so far:\n"

	NotInDocumentAnswer = "The document does not contain that information."

	DocumentPromptTemplate = `Answer the question using ONLY the context below. If the answer is not present in the context, say "%s"

Context:
%s

Question: %s
Answer:`

	GeneralPromptTemplate = `Answer the following question using your own knowledge:

Question: %s
Answer:`
)

// metadata keys stored alongside each chunk in the vector store
const (
	MetaSourceName = "source_name"
	MetaChunkIndex = "chunk_index"
)
