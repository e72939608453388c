package scperr

// Fault is the raw failure triple a transport hands back for one call.
type Fault struct {
	ErrorNumber  int
	ErrorMessage string
	Severity     int
}

// Classify turns a fault into the matching variant. Classification is driven by the
// discriminator alone. A discriminator outside the known set is treated as fatal, since a
// session that received a status it cannot interpret is no longer trustworthy.
func Classify(f Fault) *Error {
	sev := Severity(f.Severity)
	if !sev.Valid() {
		sev = SeverityFatal
	}
	return &Error{number: f.ErrorNumber, message: f.ErrorMessage, severity: sev}
}
