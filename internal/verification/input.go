// Package verification checks a presented credential against the issued
// certificate, the provider signature and the revocation ledger.
package verification

// Form names how a credential was presented
type Form string

const (
	FormDocument Form = "document"
	FormURL      Form = "url"
	FormQR       Form = "qr"
)

// Input is exactly one presentation of a credential
type Input struct {
	form     Form
	document []byte
	url      string
	qr       string
}

// FromDocument presents the raw credential JSON
func FromDocument(raw []byte) Input {
	return Input{form: FormDocument, document: raw}
}

// FromURL presents a retrieval URL to dereference
func FromURL(url string) Input {
	return Input{form: FormURL, url: url}
}

// FromQR presents the payload scanned from a certificate QR code
func FromQR(payload string) Input {
	return Input{form: FormQR, qr: payload}
}

func (in Input) Form() Form {
	return in.form
}
