// Package capability defines the contracts plugins must satisfy: the kinds
// a plugin can belong to, the capability tags it may declare, and the
// operation surface each kind exposes to callers.
package capability

import (
	"context"
	"io/fs"
	"time"
)

// ContractVersion is the contract revision this framework implements.
// Plugins declaring a different major version are rejected at registration.
const ContractVersion = "1.0"

// Kind represents the functional category of a plugin.
type Kind string

const (
	// KindFilesystem plugins provide file access.
	KindFilesystem Kind = "filesystem"
	// KindPathResolver plugins resolve and normalize project paths.
	KindPathResolver Kind = "paths"
	// KindConfig plugins load and expose configuration blocks.
	KindConfig Kind = "config"
	// KindIntegration plugins wrap remote, authenticated, rate-limited services.
	KindIntegration Kind = "integration"
)

// Tag expresses a capability a plugin declares support for.
type Tag string

const (
	TagFileRead    Tag = "file.read"
	TagFileWrite   Tag = "file.write"
	TagFileList    Tag = "file.list"
	TagFileStat    Tag = "file.stat"
	TagFileSafeOps Tag = "file.safe_ops"

	TagPathResolve   Tag = "path.resolve"
	TagPathNormalize Tag = "path.normalize"
	TagPathProject   Tag = "path.project"

	TagConfigLoad Tag = "config.load"
	TagConfigGet  Tag = "config.get"

	TagIntegrationAuth     Tag = "integration.auth"
	TagIntegrationCall     Tag = "integration.call"
	TagIntegrationPaginate Tag = "integration.paginate"
)

// kindTags maps each kind to the tags it may legally declare.
var kindTags = map[Kind]map[Tag]struct{}{
	KindFilesystem: {
		TagFileRead: {}, TagFileWrite: {}, TagFileList: {}, TagFileStat: {}, TagFileSafeOps: {},
	},
	KindPathResolver: {
		TagPathResolve: {}, TagPathNormalize: {}, TagPathProject: {},
	},
	KindConfig: {
		TagConfigLoad: {}, TagConfigGet: {},
	},
	KindIntegration: {
		TagIntegrationAuth: {}, TagIntegrationCall: {}, TagIntegrationPaginate: {},
	},
}

// Instance defines the lifecycle hooks every plugin implementation must satisfy.
type Instance interface {
	// Configure lets the plugin inspect its configuration block prior to Open.
	Configure(cfg map[string]any) error
	// Open prepares the plugin for use.
	Open(ctx context.Context) error
	// Close releases any resources held by the plugin.
	Close(ctx context.Context) error
}

// Filesystem is the operation surface of filesystem-kind plugins.
type Filesystem interface {
	Instance
	Read(ctx context.Context, path string) ([]byte, error)
	Write(ctx context.Context, path string, data []byte, overwrite bool) error
	List(ctx context.Context, dir string) ([]FileInfo, error)
	Stat(ctx context.Context, path string) (FileInfo, error)
}

// SafeOps is the optional copy/move surface declared via TagFileSafeOps.
type SafeOps interface {
	Copy(ctx context.Context, src, dst string, overwrite bool) (string, error)
	Move(ctx context.Context, src, dst string, overwrite bool) (string, error)
}

// FileInfo describes a filesystem entry.
type FileInfo struct {
	Path    string
	Size    int64
	Mode    fs.FileMode
	ModTime time.Time
	IsDir   bool
}

// PathResolver is the operation surface of paths-kind plugins.
type PathResolver interface {
	Instance
	Resolve(ctx context.Context, path string) (string, error)
	Normalize(path string) (string, error)
}

// ProjectContext is the optional project-root surface declared via TagPathProject.
type ProjectContext interface {
	ProjectRoot(ctx context.Context, start string) (string, error)
}

// ConfigProvider is the operation surface of config-kind plugins.
type ConfigProvider interface {
	Instance
	Load(ctx context.Context, path string) (map[string]any, error)
	Get(key string) (any, bool)
}

// Operation describes one remote operation an integration exposes.
type Operation struct {
	Name string
	// Idempotent operations may be retried automatically on transient failures.
	Idempotent bool
	// Paginated operations can be consumed through Paginate.
	Paginated bool
}

// Integration is the operation surface of integration-kind plugins.
type Integration interface {
	Instance
	// Operations lists the remote operations the integration exposes.
	Operations() []Operation
	// Call dispatches a single remote operation.
	Call(ctx context.Context, op string, args map[string]any) (any, error)
	// Paginate returns a lazy page sequence for a paginated operation.
	Paginate(ctx context.Context, op string, args map[string]any) (Pager, error)
}

// Authenticator acquires tokens for an integration. The session manager
// drives it; plugins never refresh credentials on their own.
type Authenticator interface {
	// Authenticate exchanges the optional refresh token for a fresh token.
	Authenticate(ctx context.Context, refreshToken string) (Token, error)
}

// Token is the result of a credential acquisition.
type Token struct {
	AccessToken  string
	RefreshToken string
	Expiry       time.Time
}

// Pager iterates over the pages of a paginated operation. Next returns
// (nil, nil) when the sequence is exhausted.
type Pager interface {
	Next(ctx context.Context) (*Page, error)
}

// Page is one page of a paginated result.
type Page struct {
	Items     []any
	NextToken string
}

// Factory constructs a fresh, unconfigured plugin instance.
type Factory func() Instance
