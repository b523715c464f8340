package discovery

import (
	"gopkg.in/ini.v1"

	"github.com/miladsoleymani/tavrida/apperror"
)

// LoadINI parses a discovery file in the format documented by spec.md §6:
//
//	[service name]
//	exchange=service exchange name
//	notifications=service notifications exchange name (optional)
//
// and returns a populated Table — every section's "exchange" key registers
// a remote service, and a present "notifications" key additionally
// registers that section as a remote publisher. Grounded on
// tavrida/dsfile.py's DSFile.
func LoadINI(path string) (*Table, error) {
	cfg, err := ini.Load(path)
	if err != nil {
		return nil, apperror.NewConfigFileIsNotDefined()
	}

	t := New()
	for _, section := range cfg.Sections() {
		name := section.Name()
		if name == ini.DefaultSection {
			continue
		}
		if !section.HasKey("exchange") {
			return nil, apperror.NewFieldMustExist("exchange")
		}
		t.RegisterRemote(name, section.Key("exchange").String())
		if section.HasKey("notifications") {
			t.RegisterRemotePublisher(name, section.Key("notifications").String())
		}
	}
	return t, nil
}
