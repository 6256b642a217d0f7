// internal/protocol/connection.go
package protocol

import (
	"fmt"
	"time"
)

// Settings are the transport settings consumed when a session connects
type Settings struct {
	BaudRate        int           `mapstructure:"baud_rate" json:"baud_rate"`
	Parity          string        `mapstructure:"parity" json:"parity"`
	DataBits        int           `mapstructure:"data_bits" json:"data_bits"`
	StopBits        float64       `mapstructure:"stop_bits" json:"stop_bits"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout" json:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout" json:"write_timeout"`
	ReadTerminator  string        `mapstructure:"read_terminator" json:"read_terminator"`
	WriteTerminator string        `mapstructure:"write_terminator" json:"write_terminator"`
}

// DefaultSettings returns 9600 8N1 with one second timeouts
func DefaultSettings() Settings {
	return Settings{
		BaudRate:     9600,
		Parity:       "none",
		DataBits:     8,
		StopBits:     1,
		ReadTimeout:  time.Second,
		WriteTimeout: time.Second,
	}
}

// Merge fills unset fields of s from defaults
func (s Settings) Merge(defaults Settings) Settings {
	if s.BaudRate == 0 {
		s.BaudRate = defaults.BaudRate
	}
	if s.Parity == "" {
		s.Parity = defaults.Parity
	}
	if s.DataBits == 0 {
		s.DataBits = defaults.DataBits
	}
	if s.StopBits == 0 {
		s.StopBits = defaults.StopBits
	}
	if s.ReadTimeout == 0 {
		s.ReadTimeout = defaults.ReadTimeout
	}
	if s.WriteTimeout == 0 {
		s.WriteTimeout = defaults.WriteTimeout
	}
	if s.ReadTerminator == "" {
		s.ReadTerminator = defaults.ReadTerminator
	}
	if s.WriteTerminator == "" {
		s.WriteTerminator = defaults.WriteTerminator
	}
	return s
}

// Validate checks the settings for values no transport can honour
func (s Settings) Validate() error {
	if s.BaudRate < 0 {
		return fmt.Errorf("invalid baud rate: %d", s.BaudRate)
	}
	switch s.Parity {
	case "", "none", "odd", "even", "mark", "space":
	default:
		return fmt.Errorf("invalid parity: %s", s.Parity)
	}
	if s.DataBits != 0 && (s.DataBits < 5 || s.DataBits > 8) {
		return fmt.Errorf("invalid data bits: %d", s.DataBits)
	}
	switch s.StopBits {
	case 0, 1, 1.5, 2:
	default:
		return fmt.Errorf("invalid stop bits: %v", s.StopBits)
	}
	if s.ReadTimeout < 0 || s.WriteTimeout < 0 {
		return fmt.Errorf("timeouts must not be negative")
	}
	return nil
}

// SerialConfig represents serial connection configuration
type SerialConfig struct {
	Port string `json:"port"`
	Settings
}

// UDPConfig represents UDP connection configuration
type UDPConfig struct {
	Address      string        `json:"address"`
	BufferSize   int           `json:"buffer_size"`
	ReadTimeout  time.Duration `json:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout"`
}

// TCPConfig represents raw socket connection configuration
type TCPConfig struct {
	Address        string        `json:"address"`
	KeepAlive      bool          `json:"keep_alive"`
	ConnectTimeout time.Duration `json:"connect_timeout"`
	ReadTimeout    time.Duration `json:"read_timeout"`
	WriteTimeout   time.Duration `json:"write_timeout"`
}

// USBTMCConfig represents USB test and measurement class configuration
type USBTMCConfig struct {
	Resource     string        `json:"resource"`
	VendorID     uint16        `json:"vendor_id"`
	ProductID    uint16        `json:"product_id"`
	SerialNumber string        `json:"serial_number"`
	Timeout      time.Duration `json:"timeout"`
}
