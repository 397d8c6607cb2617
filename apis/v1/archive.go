package v1

// Archive is the manifest describing one ZIP archive: its members, in order,
// and where the archive is written.
type Archive struct {
	Kind     string      `yaml:"kind" json:"kind" validate:"required,eq=Archive"`
	Metadata Metadata    `yaml:"metadata" json:"metadata"`
	Spec     ArchiveSpec `yaml:"spec" json:"spec"`
}

type Metadata struct {
	Name string `yaml:"name" json:"name" validate:"required"`
}

type ArchiveSpec struct {
	Compression *CompressionSpec `yaml:"compression,omitempty" json:"compression,omitempty"`

	// Comment is stored in the end of central directory record.
	Comment string `yaml:"comment,omitempty" json:"comment,omitempty" template:"" validate:"max=65535"`

	// PrecompressedExtensions replaces the default list of extensions stored
	// without compression.
	PrecompressedExtensions []string `yaml:"precompressed_extensions,omitempty" json:"precompressed_extensions,omitempty"`

	Entries     []Entry     `yaml:"entries" json:"entries" validate:"dive"`
	Directories []string    `yaml:"directories,omitempty" json:"directories,omitempty" template:""`
	Output      *OutputSpec `yaml:"output,omitempty" json:"output,omitempty"`
}

// CompressionSpec tunes the encoder. Zero values keep the defaults.
type CompressionSpec struct {
	// Level is the deflate level, from -2 (Huffman only) to 9.
	Level *int `yaml:"level,omitempty" json:"level,omitempty" validate:"omitempty,min=-2,max=9"`

	// DataDescriptors forces trailing data descriptors for every entry.
	DataDescriptors bool `yaml:"data_descriptors,omitempty" json:"data_descriptors,omitempty"`

	// ChunkSize is the read size in bytes, between 16KiB and 1MiB.
	ChunkSize int `yaml:"chunk_size,omitempty" json:"chunk_size,omitempty" validate:"omitempty,min=16384,max=1048576"`

	// ReadAhead is how many chunks may be buffered ahead of the sink.
	ReadAhead int `yaml:"read_ahead,omitempty" json:"read_ahead,omitempty" validate:"omitempty,min=1,max=16"`
}

// Entry is one archive member. Exactly one source field should be set.
type Entry struct {
	Path string `yaml:"path" json:"path" template:"" validate:"required"`

	// Method forces "store" or "deflate" instead of the automatic choice.
	Method string `yaml:"method,omitempty" json:"method,omitempty" validate:"omitempty,oneof=store deflate"`

	// Decompress unwraps zstd or gzip content before archiving it.
	Decompress string `yaml:"decompress,omitempty" json:"decompress,omitempty" validate:"omitempty,oneof=zstd zst gzip gz"`

	Comment string `yaml:"comment,omitempty" json:"comment,omitempty" template:"" validate:"max=65535"`

	File   *FileSource   `yaml:"file,omitempty" json:"file,omitempty"`
	S3     *S3Source     `yaml:"s3,omitempty" json:"s3,omitempty"`
	HTTP   *HTTPSource   `yaml:"http,omitempty" json:"http,omitempty"`
	Inline *InlineSource `yaml:"inline,omitempty" json:"inline,omitempty"`
}

type FileSource struct {
	Path string `yaml:"path" json:"path" template:"" validate:"required"`
}

type S3Source struct {
	URI             string `yaml:"uri" json:"uri" template:"" validate:"required"`
	Region          string `yaml:"region,omitempty" json:"region,omitempty" template:""`
	Endpoint        string `yaml:"endpoint,omitempty" json:"endpoint,omitempty" template:""`
	AccessKeyID     string `yaml:"access_key_id,omitempty" json:"access_key_id,omitempty" template:""`
	SecretAccessKey string `yaml:"secret_access_key,omitempty" json:"secret_access_key,omitempty" template:""`
	ForcePathStyle  bool   `yaml:"force_path_style,omitempty" json:"force_path_style,omitempty"`
}

type HTTPSource struct {
	URL     string            `yaml:"url" json:"url" template:"" validate:"required"`
	Headers map[string]string `yaml:"headers,omitempty" json:"headers,omitempty"`
	// Timeout in seconds to wait for response headers.
	Timeout  *int `yaml:"timeout,omitempty" json:"timeout,omitempty" validate:"omitempty,min=1"`
	Insecure bool `yaml:"insecure,omitempty" json:"insecure,omitempty"`
}

type InlineSource struct {
	Content string `yaml:"content" json:"content" template:""`
}

// OutputSpec configures where the archive is written (default: stdout).
type OutputSpec struct {
	Sink *SinkSpec `yaml:"sink,omitempty" json:"sink,omitempty"`
}

// SinkSpec selects the sink (one of the fields should be set).
type SinkSpec struct {
	Stdout     *StdoutSink     `yaml:"stdout,omitempty" json:"stdout,omitempty"`
	Filesystem *FilesystemSink `yaml:"filesystem,omitempty" json:"filesystem,omitempty"`
	S3         *S3Sink         `yaml:"s3,omitempty" json:"s3,omitempty"`
}

// StdoutSink writes the archive to standard output (no options currently).
type StdoutSink struct{}

type FilesystemSink struct {
	// Path is the directory the archive is created in.
	Path string `yaml:"path" json:"path" template:"" validate:"required"`
	// Name is the archive file name, defaulting to "<metadata.name>.zip".
	Name string `yaml:"name,omitempty" json:"name,omitempty" template:""`
}

type S3Sink struct {
	Bucket          string `yaml:"bucket" json:"bucket" template:"" validate:"required"`
	Key             string `yaml:"key,omitempty" json:"key,omitempty" template:""`
	Prefix          string `yaml:"prefix,omitempty" json:"prefix,omitempty" template:""`
	Region          string `yaml:"region,omitempty" json:"region,omitempty" template:""`
	Endpoint        string `yaml:"endpoint,omitempty" json:"endpoint,omitempty" template:""`
	AccessKeyID     string `yaml:"access_key_id,omitempty" json:"access_key_id,omitempty" template:""`
	SecretAccessKey string `yaml:"secret_access_key,omitempty" json:"secret_access_key,omitempty" template:""`
	ForcePathStyle  bool   `yaml:"force_path_style,omitempty" json:"force_path_style,omitempty"`
}
