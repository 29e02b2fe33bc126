package imap

import "fmt"

// Preset bundles the server endpoints for a password-authenticated provider.
type Preset struct {
	Name        string
	IMAPAddr    string
	SMTPHost    string
	SMTPPort    int
	TrashFolder string
}

var presets = map[string]Preset{
	"yahoo": {
		Name:        "yahoo",
		IMAPAddr:    "imap.mail.yahoo.com:993",
		SMTPHost:    "smtp.mail.yahoo.com",
		SMTPPort:    587,
		TrashFolder: "Trash",
	},
	"comcast": {
		Name:        "comcast",
		IMAPAddr:    "imap.comcast.net:993",
		SMTPHost:    "smtp.comcast.net",
		SMTPPort:    587,
		TrashFolder: "Trash",
	},
}

// PresetFor returns the builtin preset for a provider name.
func PresetFor(provider string) (Preset, error) {
	p, ok := presets[provider]
	if !ok {
		return Preset{}, fmt.Errorf("no IMAP preset for provider %s", provider)
	}
	return p, nil
}

// GenericPreset builds a preset for an arbitrary IMAP/SMTP server pair.
func GenericPreset(imapAddr, smtpHost string, smtpPort int) Preset {
	return Preset{
		Name:        "generic",
		IMAPAddr:    imapAddr,
		SMTPHost:    smtpHost,
		SMTPPort:    smtpPort,
		TrashFolder: "Trash",
	}
}
