// Package dbc reads CAN database files and computes physical signal
// values from raw frame bytes.
package dbc

import (
	"fmt"
	"os"
	"path/filepath"

	candbc "go.einride.tech/can/pkg/dbc"
)

// extendedFlag marks 29 bit identifiers in the 32 bit DBC message ID.
const extendedFlag uint32 = 0x80000000

// Signal describes the bit layout and scaling of one value inside a message.
//
// StartBit follows DBC conventions: for little endian (Intel) signals it is
// the position of the least significant bit, for big endian (Motorola)
// signals the position of the most significant bit.
type Signal struct {
	Name         string
	StartBit     int
	Length       int
	LittleEndian bool
	Signed       bool
	Scale        float64
	Offset       float64
	Min          float64
	Max          float64
	Unit         string
	Receivers    []string
}

// Message describes the layout of one CAN frame from a database.
type Message struct {
	ID          uint32
	Extended    bool
	Name        string
	Length      int
	Transmitter string
	Signals     []*Signal
}

// Signal returns the named signal of the message.
func (m *Message) Signal(name string) (*Signal, bool) {
	for _, s := range m.Signals {
		if s.Name == name {
			return s, true
		}
	}
	return nil, false
}

// Database is a set of message definitions indexed by identifier and name.
type Database struct {
	Version  string
	Messages []*Message

	byID   map[uint32]*Message
	byName map[string]*Message
}

// Load reads and merges one or more database files. A message defined in a
// later file replaces an earlier definition with the same identifier.
func Load(paths ...string) (*Database, error) {
	db := newDatabase()
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read database: %w", err)
		}
		if err := db.parse(filepath.Base(path), data); err != nil {
			return nil, err
		}
	}
	return db, nil
}

// Parse reads a database from memory. The name is only used in parse errors.
func Parse(name string, data []byte) (*Database, error) {
	db := newDatabase()
	if err := db.parse(name, data); err != nil {
		return nil, err
	}
	return db, nil
}

func newDatabase() *Database {
	return &Database{
		byID:   make(map[uint32]*Message),
		byName: make(map[string]*Message),
	}
}

func (db *Database) parse(name string, data []byte) error {
	parser := candbc.NewParser(name, data)
	if err := parser.Parse(); err != nil {
		return fmt.Errorf("failed to parse %s: %w", name, err)
	}
	for _, def := range parser.File().Defs {
		switch d := def.(type) {
		case *candbc.VersionDef:
			db.Version = d.Version
		case *candbc.MessageDef:
			db.add(convertMessage(d))
		}
	}
	return nil
}

func (db *Database) add(msg *Message) {
	if old, ok := db.byID[msg.ID]; ok {
		delete(db.byName, old.Name)
		for i, m := range db.Messages {
			if m == old {
				db.Messages[i] = msg
				break
			}
		}
	} else {
		db.Messages = append(db.Messages, msg)
	}
	db.byID[msg.ID] = msg
	db.byName[msg.Name] = msg
}

// Message returns the definition for a CAN identifier. The 29 bit flag of
// the DBC file format is already stripped, so the identifier is the one
// seen on the bus.
func (db *Database) Message(id uint32) (*Message, bool) {
	m, ok := db.byID[id]
	return m, ok
}

// MessageByName returns the definition with the given message name.
func (db *Database) MessageByName(name string) (*Message, bool) {
	m, ok := db.byName[name]
	return m, ok
}

// DecodeFrame resolves the message for a CAN identifier and computes all of
// its signal values.
func (db *Database) DecodeFrame(id uint32, data []byte) (*Message, map[string]float64, error) {
	m, ok := db.byID[id]
	if !ok {
		return nil, nil, fmt.Errorf("no message with identifier 0x%X", id)
	}
	values, err := m.Decode(data)
	if err != nil {
		return nil, nil, err
	}
	return m, values, nil
}

func convertMessage(def *candbc.MessageDef) *Message {
	id := uint32(def.MessageID)
	extended := id&extendedFlag != 0
	if extended {
		id &= 0x1FFFFFFF
	}
	msg := &Message{
		ID:          id,
		Extended:    extended,
		Name:        string(def.Name),
		Length:      int(def.Size),
		Transmitter: string(def.Transmitter),
	}
	for _, s := range def.Signals {
		receivers := make([]string, 0, len(s.Receivers))
		for _, r := range s.Receivers {
			receivers = append(receivers, string(r))
		}
		msg.Signals = append(msg.Signals, &Signal{
			Name:         string(s.Name),
			StartBit:     int(s.StartBit),
			Length:       int(s.Size),
			LittleEndian: !s.IsBigEndian,
			Signed:       s.IsSigned,
			Scale:        s.Factor,
			Offset:       s.Offset,
			Min:          s.Minimum,
			Max:          s.Maximum,
			Unit:         s.Unit,
			Receivers:    receivers,
		})
	}
	return msg
}
