package vectorstore

import (
	"fmt"
	"net/url"
	"strconv"

	"github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
)

const (
	defaultGRPCPort = 6334

	// maxMessageSize caps gRPC messages at 50MB so large scroll pages and
	// batched upserts do not trip the 4MB default.
	maxMessageSize = 50 * 1024 * 1024
)

// NewClient dials a shared Qdrant gRPC client from a URL such as
// http://localhost:6334. An https scheme enables TLS; a missing port uses
// the Qdrant gRPC default 6334.
func NewClient(rawURL, apiKey string) (*qdrant.Client, error) {
	if rawURL == "" {
		return nil, fmt.Errorf("%w: qdrant URL required", ErrInvalidConfig)
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("%w: parsing qdrant URL %q: %v", ErrInvalidConfig, rawURL, err)
	}

	host := u.Hostname()
	if host == "" {
		host = rawURL
	}
	port := defaultGRPCPort
	if p := u.Port(); p != "" {
		port, err = strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid qdrant port %q", ErrInvalidConfig, p)
		}
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   host,
		Port:   port,
		APIKey: apiKey,
		UseTLS: u.Scheme == "https",
		GrpcOptions: []grpc.DialOption{
			grpc.WithDefaultCallOptions(
				grpc.MaxCallRecvMsgSize(maxMessageSize),
				grpc.MaxCallSendMsgSize(maxMessageSize),
			),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}
	return client, nil
}
