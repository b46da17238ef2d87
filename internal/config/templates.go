package config

import (
	"fmt"
	"os"
	"strings"
)

func Template(kind string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "", "goes":
		return goesTemplate, nil
	case "reader":
		return readerTemplate, nil
	default:
		return "", fmt.Errorf("unknown config kind: %s", kind)
	}
}

func WriteTemplate(path, kind string, overwrite bool) error {
	template, err := Template(kind)
	if err != nil {
		return err
	}
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(template), 0o600)
}

const goesTemplate = `[client]
address = "127.0.0.1:1113"
transport = "tcp"
connect_timeout = "5s"
write_timeout = "15s"
max_connect_attempts = 3
security_mode = "development"

[client.tls]
enabled = false
mutual = false
insecure_skip_verify = false

[reader]
path = "./events"
layout = "nested"
location = "Local"
filtered_batch_size = 500
scan_batch_size = 2000

[server]
addr = ":9400"
cors_origins = ["http://localhost:3000"]

[log]
level = "info"
`

const readerTemplate = `[reader]
path = "./events"
layout = "monthly"
location = "UTC"
`
