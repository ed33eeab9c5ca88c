package config

import (
	"fmt"
	"os"
	"strings"
)

func Template(kind string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "listener":
		return listenerTemplate, nil
	case "client":
		return clientTemplate, nil
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

const listenerTemplate = `# amqpctl listen
addr = "127.0.0.1:5672"
transport = "tcp"
metrics_addr = "127.0.0.1:9464"
metrics_token = ""
log_level = "info"

container_id = "amqpctl-listener"
virtual_host = ""
max_frame_size = 65536
max_sessions = 256
idle_timeout = "0s"
credit_window = 10
auto_accept = true
auto_settle = true

handshake_timeout = "5s"
write_timeout = "15s"
security_mode = "development"

[tls]
enabled = false
mutual = false
cert_file = ""
key_file = ""
ca_file = ""
`

const clientTemplate = `# amqpctl send
addr = "127.0.0.1:5672"
transport = "tcp"
address = "queue.example"
log_level = "info"

container_id = "amqpctl-client"
virtual_host = ""
max_frame_size = 65536
max_sessions = 16
idle_timeout = "0s"
auto_settle = true

connect_timeout = "5s"
handshake_timeout = "5s"
write_timeout = "15s"
max_connect_attempts = 5
security_mode = "development"

[tls]
enabled = false
mutual = false
cert_file = ""
key_file = ""
ca_file = ""
server_name = ""
insecure_skip_verify = false

[backoff]
initial_delay = "250ms"
multiplier = 2.0
max_delay = "5s"
jitter = true
`
