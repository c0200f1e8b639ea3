package logging

type discard struct{}

func (d discard) WithField(string, interface{}) Interface { return d }
func (d discard) WithError(error) Interface               { return d }
func (discard) Debug(string)                              {}
func (discard) Info(string)                               {}
func (discard) Warn(string)                               {}
func (discard) Error(string)                              {}
func (discard) Fatal(string)                              {}
func (discard) Debugf(string, ...interface{})             {}
func (discard) Infof(string, ...interface{})              {}
func (discard) Warnf(string, ...interface{})              {}
func (discard) Errorf(string, ...interface{})             {}
func (discard) Fatalf(string, ...interface{})             {}

// Discard returns a logger that drops everything. Components fall back to it
// when no logger is configured.
func Discard() Interface {
	return discard{}
}
