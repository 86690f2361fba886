package ext4

import "github.com/sirupsen/logrus"

// log is the package-level logger. Only Mount writes to it (one Debug line
// on a successful mount); no other operation logs. Callers
// may swap it out with SetLogger the way sibling packages in this codebase
// take an injectable logger rather than hard-wiring the global one.
var log logrus.FieldLogger = logrus.StandardLogger()

// SetLogger replaces the package-level logger.
func SetLogger(l logrus.FieldLogger) {
	if l == nil {
		return
	}
	log = l
}
