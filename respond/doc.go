// Package respond rephrases user messages in a requested tone using
// retrieval-augmented generation.
//
// A Responder embeds the incoming message, retrieves the most similar
// utterances from the vector index as context, renders a prompt and asks
// the language model for short rephrasings. The reply is extracted from the
// model output with a tolerant pattern and every answered request is
// recorded in the chat log, including requests where the model failed and
// a fixed apology was returned instead.
package respond
