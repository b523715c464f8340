// Package config implements tavrida's connection configuration, grounded
// on tavrida/config.py's ConnectionConfig/Credentials and
// tavrida/configfile.py's [connection]/[ssl]/[server] option groups. The
// original loads these via oslo_config from an ini-style config file; the
// ini-parsing concern is covered by gopkg.in/ini.v1 here (the same library
// discovery.LoadINI already depends on), rather than reimplementing an
// oslo_config equivalent.
package config

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"time"

	"gopkg.in/ini.v1"

	"github.com/miladsoleymani/tavrida/apperror"
)

// Credentials is the RabbitMQ username/password pair.
type Credentials struct {
	Username string
	Password string
}

// SSLOptions mirrors tavrida/configfile.py's [ssl] option group.
type SSLOptions struct {
	KeyFile            string
	CertFile           string
	CACerts            string
	SuppressRaggedEOFs bool
	Ciphers            []string
}

// ConnectionConfig is the full field set of spec.md §6, grounded on
// tavrida/config.py's ConnectionConfig.
type ConnectionConfig struct {
	Host        string
	Port        int
	VirtualHost string
	Credentials Credentials

	ChannelMax            int
	FrameMax              int
	HeartbeatInterval     time.Duration
	ConnectionAttempts    int
	ReconnectAttempts     int // -1 means unlimited, per configfile.py's default
	RetryDelay            time.Duration
	SocketTimeout         time.Duration
	Locale                string
	BackpressureDetection bool

	SSL        bool
	SSLOptions SSLOptions

	AsyncEngine bool // selects amqpadapter.AsyncAdapter over SyncAdapter
}

// Defaults returns a ConnectionConfig with configfile.py's stated
// defaults: port 5672, virtual host "/", 3 connection attempts, 10s
// heartbeat, 1s retry delay, 3s socket timeout, unlimited reconnect
// attempts.
func Defaults() ConnectionConfig {
	return ConnectionConfig{
		Port:               5672,
		VirtualHost:        "/",
		HeartbeatInterval:  10 * time.Second,
		ConnectionAttempts: 3,
		ReconnectAttempts:  -1,
		RetryDelay:         time.Second,
		SocketTimeout:      3 * time.Second,
	}
}

// DialURI builds an amqp:// (or amqps://) URI consumable by
// amqp091-go.Dial, per tavrida/config.py's to_pika_params.
func (c ConnectionConfig) DialURI() string {
	scheme := "amqp"
	if c.SSL {
		scheme = "amqps"
	}
	// An empty URI path selects the broker's default virtual host "/".
	vhost := c.VirtualHost
	if vhost == "/" {
		vhost = ""
	}
	return fmt.Sprintf("%s://%s:%s@%s:%d/%s",
		scheme, c.Credentials.Username, c.Credentials.Password, c.Host, c.Port, vhost)
}

// TLSConfig builds a *tls.Config from SSLOptions when SSL is enabled; it
// returns (nil, nil) when SSL is disabled.
func (c ConnectionConfig) TLSConfig() (*tls.Config, error) {
	if !c.SSL {
		return nil, nil
	}
	tlsCfg := &tls.Config{}
	if c.SSLOptions.CertFile != "" && c.SSLOptions.KeyFile != "" {
		cert, err := tls.LoadX509KeyPair(c.SSLOptions.CertFile, c.SSLOptions.KeyFile)
		if err != nil {
			return nil, apperror.NewIncorrectAMQPConfig(err.Error())
		}
		tlsCfg.Certificates = []tls.Certificate{cert}
	}
	if c.SSLOptions.CACerts != "" {
		pem, err := os.ReadFile(c.SSLOptions.CACerts)
		if err != nil {
			return nil, apperror.NewIncorrectAMQPConfig(err.Error())
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, apperror.NewIncorrectAMQPConfig("could not parse ca_certs")
		}
		tlsCfg.RootCAs = pool
	}
	return tlsCfg, nil
}

// ServiceEntry names one service to wire up, mirroring
// tavrida/configfile.py's get_services: {"name": ..., "controller": ...}.
type ServiceEntry struct {
	Name       string
	Controller string // importable controller identifier, application-defined
}

// Topology is the [server] option group: queue/exchange names, the
// services this process hosts, and the discovery file path.
type Topology struct {
	QueueName    string
	ExchangeName string
	Services     []ServiceEntry
	DiscoveryURI string
}

// LoadINI reads connection + topology config from an ini-style file laid
// out like tavrida/configfile.py's option groups: [connection], [ssl],
// [server]. Unset optional fields keep Defaults()'s values.
func LoadINI(path string) (ConnectionConfig, Topology, error) {
	cfg := Defaults()
	var topo Topology

	f, err := ini.Load(path)
	if err != nil {
		return cfg, topo, apperror.NewConfigFileIsNotDefined()
	}

	if sec, err := f.GetSection("connection"); err == nil {
		cfg.Host = sec.Key("host").String()
		cfg.Credentials.Username = sec.Key("username").String()
		cfg.Credentials.Password = sec.Key("password").String()
		if sec.HasKey("port") {
			cfg.Port = sec.Key("port").MustInt(cfg.Port)
		}
		if sec.HasKey("virtual_host") {
			cfg.VirtualHost = sec.Key("virtual_host").String()
		}
		if sec.HasKey("heartbeat_interval") {
			cfg.HeartbeatInterval = time.Duration(sec.Key("heartbeat_interval").MustInt(10)) * time.Second
		}
		if sec.HasKey("connection_attempts") {
			cfg.ConnectionAttempts = sec.Key("connection_attempts").MustInt(cfg.ConnectionAttempts)
		}
		if sec.HasKey("reconnect_attempts") {
			cfg.ReconnectAttempts = sec.Key("reconnect_attempts").MustInt(cfg.ReconnectAttempts)
		}
		if sec.HasKey("retry_delay") {
			cfg.RetryDelay = time.Duration(sec.Key("retry_delay").MustFloat64(1.0) * float64(time.Second))
		}
		if sec.HasKey("socket_timeout") {
			cfg.SocketTimeout = time.Duration(sec.Key("socket_timeout").MustFloat64(3.0) * float64(time.Second))
		}
		if sec.HasKey("channel_max") {
			cfg.ChannelMax = sec.Key("channel_max").MustInt(0)
		}
		if sec.HasKey("frame_max") {
			cfg.FrameMax = sec.Key("frame_max").MustInt(0)
		}
		cfg.Locale = sec.Key("locale").String()
		cfg.BackpressureDetection = sec.Key("backpressure_detection").MustBool(false)
		cfg.SSL = sec.Key("ssl").MustBool(false)
		cfg.AsyncEngine = sec.Key("async_engine").MustBool(false)
	}

	if sec, err := f.GetSection("ssl"); err == nil {
		cfg.SSLOptions.KeyFile = sec.Key("keyfile").String()
		cfg.SSLOptions.CertFile = sec.Key("certfile").String()
		cfg.SSLOptions.CACerts = sec.Key("ca_certs").String()
		cfg.SSLOptions.SuppressRaggedEOFs = sec.Key("suppress_ragged_eofs").MustBool(true)
	}

	if sec, err := f.GetSection("server"); err == nil {
		topo.QueueName = sec.Key("queue_name").String()
		topo.ExchangeName = sec.Key("exchange_name").String()
		topo.DiscoveryURI = sec.Key("discovery").String()
	}

	return cfg, topo, nil
}
