package utils

import "encoding/base64"

// URLEncodedBase64 carries a byte slice that marshals as unpadded base64url
// JSON and unmarshals from any base64 variant. It is the field type of the
// registration body's attestationObject. Kept under the same name the
// teacher lineage used for the equivalent WebAuthn field.
type URLEncodedBase64 []byte

func (b URLEncodedBase64) MarshalJSON() ([]byte, error) {
	enc := base64.RawURLEncoding.EncodeToString(b)
	return []byte(`"` + enc + `"`), nil
}

func (b *URLEncodedBase64) UnmarshalJSON(data []byte) error {
	if len(data) < 2 || data[0] != '"' || data[len(data)-1] != '"' {
		return ErrInvalidInput.WithDetails("not a JSON string")
	}
	s := string(data[1 : len(data)-1])
	// iOS clients may send standard or URL-safe base64, padded or not;
	// accept both rather than rejecting on a client library's choice.
	dec, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		dec, err = base64.StdEncoding.DecodeString(s)
		if err != nil {
			dec, err = base64.URLEncoding.DecodeString(s)
			if err != nil {
				return ErrInvalidInput.WithDetails("invalid base64: " + err.Error())
			}
		}
	}
	*b = dec
	return nil
}
