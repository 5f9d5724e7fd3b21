package config

import (
	"errors"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

type Server struct {
	Bind    string
	SSLCert string
	SSLKey  string
	Proxy   bool // trust X-Forwarded-For and X-Real-IP, prewarm limit keys on it
	PProf   bool
	Metrics bool
}

func (Server) Init(cmd *cobra.Command) error {
	flags := []struct {
		key   string
		value interface{}
		usage string
	}{
		{"bind", "127.0.0.1:8080", "address/port/socket to serve http"},
		{"sslcert", "", "path to the SSL cert, requires sslkey"},
		{"sslkey", "", "path to the SSL key, requires sslcert"},
		{"proxy", false, "server is behind a reverse proxy"},
		{"pprof", false, "enable pprof endpoint available at /debug/pprof"},
		{"metrics", true, "enable prometheus metrics available at /metrics"},
	}

	for _, flag := range flags {
		switch value := flag.value.(type) {
		case string:
			cmd.PersistentFlags().String(flag.key, value, flag.usage)
		case bool:
			cmd.PersistentFlags().Bool(flag.key, value, flag.usage)
		}

		if err := viper.BindPFlag(flag.key, cmd.PersistentFlags().Lookup(flag.key)); err != nil {
			return err
		}
	}

	return nil
}

func (s *Server) Set() {
	s.Bind = viper.GetString("bind")
	s.SSLCert = viper.GetString("sslcert")
	s.SSLKey = viper.GetString("sslkey")
	s.Proxy = viper.GetBool("proxy")
	s.PProf = viper.GetBool("pprof")
	s.Metrics = viper.GetBool("metrics")

	if err := s.validate(); err != nil {
		panic(err)
	}
}

func (s *Server) validate() error {
	if s.Bind == "" {
		return errors.New("bind address must be specified")
	}

	if (s.SSLCert == "") != (s.SSLKey == "") {
		return errors.New("sslcert and sslkey must be specified together")
	}

	return nil
}

// TLS reports whether the server listens with a certificate.
func (s *Server) TLS() bool {
	return s.SSLCert != "" && s.SSLKey != ""
}
