package main

import (
	"context"
	"fmt"
	"os"

	"github.com/redpanda-data/benthos/v4/public/service"

	"github.com/twinfer/bintype/pkg/bt"
)

// BintypeProcessor is a Benthos processor that parses and serializes binary
// data described by bintype definitions.
type BintypeProcessor struct {
	config      BintypeConfig
	loader      *bt.Loader
	logger      *service.Logger
	mParsed     *service.MetricCounter
	mSerialized *service.MetricCounter
	mErrors     *service.MetricCounter
}

// BintypeConfig contains configuration parameters for the bintype processor.
type BintypeConfig struct {
	DefinitionPath string `json:"definition_path" yaml:"definition_path"`
	IsParser       bool   `json:"is_parser" yaml:"is_parser"`
	Class          string `json:"class" yaml:"class"`
	Check          string `json:"check" yaml:"check"`
}

func init() {
	err := service.RegisterProcessor(
		"bintype",
		bintypeProcessorConfig(),
		func(conf *service.ParsedConfig, mgr *service.Resources) (service.Processor, error) {
			return newBintypeProcessorFromConfig(conf, mgr)
		},
	)
	if err != nil {
		panic(err)
	}
}

func main() {
	service.RunCLI(context.Background())
}

// bintypeProcessorConfig returns a config spec for a bintype processor.
func bintypeProcessorConfig() *service.ConfigSpec {
	return service.NewConfigSpec().
		Summary("Parses or serializes binary data using bintype definitions.").
		Description("This processor decodes binary messages into structured documents, or encodes structured documents back to binary, according to a bintype definition file or YAML manifest.").
		Field(service.NewStringField("definition_path").
			Description("Path to a bintype definition (.bt) or a YAML manifest.").
			Example("./definitions/packet.bt")).
		Field(service.NewBoolField("is_parser").
			Description("Whether this processor parses binary to structured data (true) or serializes structured data to binary (false).").
			Default(true)).
		Field(service.NewStringField("class").
			Description("The bintype class to use. Leave empty to use the manifest class or the first class of the definition.").
			Default("")).
		Field(service.NewStringField("check").
			Description("An expression over the decoded fields that must hold for a message to pass, e.g. `hdr.version == 2`.").
			Default("")).
		Version("0.1.0")
}

// newBintypeProcessorFromConfig creates a new BintypeProcessor from a parsed config.
func newBintypeProcessorFromConfig(conf *service.ParsedConfig, mgr *service.Resources) (*BintypeProcessor, error) {
	definitionPath, err := conf.FieldString("definition_path")
	if err != nil {
		return nil, err
	}
	isParser, err := conf.FieldBool("is_parser")
	if err != nil {
		return nil, err
	}
	class, err := conf.FieldString("class")
	if err != nil {
		return nil, err
	}
	check, err := conf.FieldString("check")
	if err != nil {
		return nil, err
	}

	config := BintypeConfig{
		DefinitionPath: definitionPath,
		IsParser:       isParser,
		Class:          class,
		Check:          check,
	}

	if _, err := os.Stat(definitionPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("definition file not found at path: %s", definitionPath)
	}

	loader := bt.NewLoader(bt.WithClass(class), bt.WithCheck(check), bt.WithCaching(0))
	if err := loader.Validate(definitionPath); err != nil {
		return nil, fmt.Errorf("invalid definition: %w", err)
	}

	metrics := mgr.Metrics()
	return &BintypeProcessor{
		config:      config,
		loader:      loader,
		logger:      mgr.Logger(),
		mParsed:     metrics.NewCounter("bintype_parsed"),
		mSerialized: metrics.NewCounter("bintype_stored"),
		mErrors:     metrics.NewCounter("bintype_errors"),
	}, nil
}

// Process applies bintype parsing or serialization to a message.
func (b *BintypeProcessor) Process(ctx context.Context, msg *service.Message) (service.MessageBatch, error) {
	if b.config.IsParser {
		return b.parseBinary(ctx, msg)
	}
	return b.serializeToBinary(ctx, msg)
}

func (b *BintypeProcessor) fail(msg *service.Message, err error) (service.MessageBatch, error) {
	b.logger.Errorf("%v", err)
	b.mErrors.Incr(1)
	msg.SetError(err)
	return service.MessageBatch{msg}, nil
}

// parseBinary decodes the message bytes into a structured document.
func (b *BintypeProcessor) parseBinary(ctx context.Context, msg *service.Message) (service.MessageBatch, error) {
	b.logger.Debug("Parsing binary data with bintype")

	binData, err := msg.AsBytes()
	if err != nil {
		return b.fail(msg, fmt.Errorf("failed to get binary data from message: %w", err))
	}
	if len(binData) == 0 {
		return b.fail(msg, fmt.Errorf("empty binary data provided"))
	}

	inst, err := b.loader.ParseBytes(ctx, binData, b.config.DefinitionPath)
	if err != nil {
		return b.fail(msg, fmt.Errorf("failed to parse binary data of size %d bytes: %w", len(binData), err))
	}

	b.logger.Debugf("Successfully parsed %d bytes of binary data", len(binData))
	b.mParsed.Incr(1)

	newMsg := msg.Copy()
	newMsg.SetStructured(inst.ToMap())
	return service.MessageBatch{newMsg}, nil
}

// serializeToBinary encodes a structured document into binary.
func (b *BintypeProcessor) serializeToBinary(ctx context.Context, msg *service.Message) (service.MessageBatch, error) {
	b.logger.Debug("Serializing structured data to binary with bintype")

	structData, err := msg.AsStructured()
	if err != nil {
		return b.fail(msg, fmt.Errorf("failed to get structured data from message: %w", err))
	}
	data, ok := structData.(map[string]any)
	if !ok {
		return b.fail(msg, fmt.Errorf("expected an object, got %T", structData))
	}

	binData, err := b.loader.StoreMap(ctx, data, b.config.DefinitionPath)
	if err != nil {
		return b.fail(msg, fmt.Errorf("failed to serialize data: %w", err))
	}

	b.logger.Debugf("Successfully serialized data to %d bytes of binary data", len(binData))
	b.mSerialized.Incr(1)

	newMsg := msg.Copy()
	newMsg.SetBytes(binData)
	return service.MessageBatch{newMsg}, nil
}

// Close the processor resources
func (b *BintypeProcessor) Close(ctx context.Context) error {
	b.logger.Debug("Closing bintype processor and clearing definition cache")
	b.loader.ClearCache()
	return nil
}
