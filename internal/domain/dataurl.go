package domain

// DataURL is one decoded base64 image attached to a submission. It
// only lives for the synchronous dispatch of the task that carries it
// and is never persisted.
type DataURL struct {
	MimeType string
	Data     []byte
}
