package eventlog

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	logx "qseq/pkg/logx"
)

const DefaultSubjectPrefix = "qseq.events"

// Publisher is the subset of *nats.Conn used by NATSSink.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// NATSSink publishes each record as JSON on <prefix>.<source>.
type NATSSink struct {
	pub    Publisher
	prefix string
	nc     *nats.Conn // set when the sink owns the connection
}

func NewNATSSink(pub Publisher, prefix string) *NATSSink {
	prefix = strings.Trim(strings.TrimSpace(prefix), ".")
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	return &NATSSink{pub: pub, prefix: prefix}
}

// DialNATS connects to url and returns a sink owning the connection.
func DialNATS(url, prefix string, log logx.Logger) (*NATSSink, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	nc, err := nats.Connect(url,
		nats.Name("qseq"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn("nats disconnected", logx.Err(err))
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			log.Info("nats reconnected", logx.String("url", c.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	s := NewNATSSink(nc, prefix)
	s.nc = nc
	return s, nil
}

func (s *NATSSink) Subject(source string) string {
	return s.prefix + "." + subjectToken(source)
}

func (s *NATSSink) Emit(r Record) error {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}
	if err := s.pub.Publish(s.Subject(r.Source), data); err != nil {
		return fmt.Errorf("publish record: %w", err)
	}
	return nil
}

// Close drains the connection if the sink owns it.
func (s *NATSSink) Close() error {
	if s.nc == nil {
		return nil
	}
	return s.nc.Drain()
}

// subjectToken maps a source name onto a single NATS subject token.
func subjectToken(source string) string {
	if source == "" {
		return "_"
	}
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t', '\r', '\n':
			return '_'
		}
		return r
	}, source)
}
