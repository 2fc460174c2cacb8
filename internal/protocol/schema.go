package protocol

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schemas/*.json
var schemaFS embed.FS

const schemaBase = "https://voxelprism.ai/schemas/"

const (
	SchemaHello = "hello.schema.json"
	SchemaEvent = "event.schema.json"
)

var (
	schemaOnce sync.Once
	schemaSet  map[string]*jsonschema.Schema
	schemaErr  error
)

func compileSchemas() {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	names := []string{SchemaHello, SchemaEvent}
	for _, n := range names {
		raw, err := schemaFS.ReadFile("schemas/" + n)
		if err != nil {
			schemaErr = err
			return
		}
		if err := c.AddResource(schemaBase+n, bytes.NewReader(raw)); err != nil {
			schemaErr = fmt.Errorf("%s: %w", n, err)
			return
		}
	}
	set := make(map[string]*jsonschema.Schema, len(names))
	for _, n := range names {
		s, err := c.Compile(schemaBase + n)
		if err != nil {
			schemaErr = fmt.Errorf("%s: %w", n, err)
			return
		}
		set[n] = s
	}
	schemaSet = set
}

// Schema returns the compiled embedded schema with the given file name.
func Schema(name string) (*jsonschema.Schema, error) {
	schemaOnce.Do(compileSchemas)
	if schemaErr != nil {
		return nil, schemaErr
	}
	s, ok := schemaSet[name]
	if !ok {
		return nil, fmt.Errorf("protocol: unknown schema %q", name)
	}
	return s, nil
}

// validate checks raw JSON against the named schema.
func validate(name string, raw []byte) error {
	s, err := Schema(name)
	if err != nil {
		return err
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return codeErr(ErrProtoBadRequest, "bad json: %v", err)
	}
	if err := s.Validate(doc); err != nil {
		return codeErr(ErrProtoBadRequest, "%v", err)
	}
	return nil
}

// DecodeHello parses and validates a HELLO frame.
func DecodeHello(raw []byte) (HelloMsg, error) {
	var m HelloMsg
	base, err := DecodeBase(raw)
	if err != nil {
		return m, codeErr(ErrProtoBadRequest, "bad json: %v", err)
	}
	if base.Type != TypeHello {
		return m, codeErr(ErrProtoBadRequest, "expected %s, got %q", TypeHello, base.Type)
	}
	if base.ProtocolVersion != Version {
		return m, codeErr(ErrProtoVersion, "protocol_version %q, want %s", base.ProtocolVersion, Version)
	}
	if err := validate(SchemaHello, raw); err != nil {
		return m, err
	}
	if err := json.Unmarshal(raw, &m); err != nil {
		return m, codeErr(ErrProtoBadRequest, "%v", err)
	}
	return m, nil
}

// DecodeEvent parses and validates a host mutation frame.
func DecodeEvent(raw []byte) (EventMsg, error) {
	var m EventMsg
	base, err := DecodeBase(raw)
	if err != nil {
		return m, codeErr(ErrProtoBadRequest, "bad json: %v", err)
	}
	if !IsEvent(base.Type) {
		return m, codeErr(ErrProtoBadRequest, "unexpected message type %q", base.Type)
	}
	if base.ProtocolVersion != Version {
		return m, codeErr(ErrProtoVersion, "protocol_version %q, want %s", base.ProtocolVersion, Version)
	}
	if err := validate(SchemaEvent, raw); err != nil {
		return m, err
	}
	if err := json.Unmarshal(raw, &m); err != nil {
		return m, codeErr(ErrProtoBadRequest, "%v", err)
	}
	return m, nil
}
