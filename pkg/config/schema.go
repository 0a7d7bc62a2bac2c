package config

import (
	"fmt"
	"strings"
	"sync"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protodesc"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/reflect/protoregistry"
	"google.golang.org/protobuf/types/descriptorpb"
)

// configSchema lists the sections of the config file. Every scalar field is named after the flag it sets.
var configSchema = []struct {
	section string
	fields  []*descriptorpb.FieldDescriptorProto
}{
	{section: "Logging", fields: []*descriptorpb.FieldDescriptorProto{
		scalarField("log_handler_type", 1, descriptorpb.FieldDescriptorProto_TYPE_STRING),
		scalarField("log_level", 2, descriptorpb.FieldDescriptorProto_TYPE_STRING),
		scalarField("log_add_source", 3, descriptorpb.FieldDescriptorProto_TYPE_BOOL),
	}},
	{section: "Cache", fields: []*descriptorpb.FieldDescriptorProto{
		scalarField("data_dir", 1, descriptorpb.FieldDescriptorProto_TYPE_STRING),
		scalarField("cache_max_size", 2, descriptorpb.FieldDescriptorProto_TYPE_STRING),
		scalarField("cache_app_version", 3, descriptorpb.FieldDescriptorProto_TYPE_INT32),
		scalarField("cache_cleanup_fraction", 4, descriptorpb.FieldDescriptorProto_TYPE_DOUBLE),
		scalarField("journal_rewrite_threshold", 5, descriptorpb.FieldDescriptorProto_TYPE_INT32),
		scalarField("key_filter_capacity", 6, descriptorpb.FieldDescriptorProto_TYPE_UINT64),
	}},
	{section: "Server", fields: []*descriptorpb.FieldDescriptorProto{
		scalarField("address", 1, descriptorpb.FieldDescriptorProto_TYPE_STRING),
		scalarField("metrics_address", 2, descriptorpb.FieldDescriptorProto_TYPE_STRING),
	}},
}

func scalarField(name string, number int32,
	fieldType descriptorpb.FieldDescriptorProto_Type) *descriptorpb.FieldDescriptorProto {
	return &descriptorpb.FieldDescriptorProto{
		Name:   proto.String(name),
		Number: proto.Int32(number),
		Label:  descriptorpb.FieldDescriptorProto_LABEL_OPTIONAL.Enum(),
		Type:   fieldType.Enum(),
	}
}

// buildConfigDescriptor assembles the `kache.Config` message, which holds one optional sub-message per section:
//
//	logging { log_level: "debug" }
//	cache { data_dir: "/var/cache/kache" cache_max_size: "1GiB" }
func buildConfigDescriptor() (protoreflect.MessageDescriptor, error) {
	file := &descriptorpb.FileDescriptorProto{
		Name:    proto.String("kache/config.proto"),
		Package: proto.String("kache"),
		Syntax:  proto.String("proto2"),
	}
	root := &descriptorpb.DescriptorProto{Name: proto.String("Config")}
	for i, section := range configSchema {
		file.MessageType = append(file.MessageType,
			&descriptorpb.DescriptorProto{Name: proto.String(section.section), Field: section.fields})
		root.Field = append(root.Field, &descriptorpb.FieldDescriptorProto{
			Name:     proto.String(strings.ToLower(section.section)),
			Number:   proto.Int32(int32(i + 1)),
			Label:    descriptorpb.FieldDescriptorProto_LABEL_OPTIONAL.Enum(),
			Type:     descriptorpb.FieldDescriptorProto_TYPE_MESSAGE.Enum(),
			TypeName: proto.String(".kache." + section.section),
		})
	}
	file.MessageType = append(file.MessageType, root)

	fd, err := protodesc.NewFile(file, new(protoregistry.Files))
	if err != nil {
		return nil, fmt.Errorf("failed to build config descriptor: %w", err)
	}
	return fd.Messages().ByName("Config"), nil
}

// configDescriptor returns the Config descriptor, building it once.
var configDescriptor = sync.OnceValues(buildConfigDescriptor)
