// Package qdrant implements vector.Transport over the Qdrant gRPC API.
package qdrant

import (
	"context"
	"crypto/tls"
	"fmt"

	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"

	"github.com/efebarandurmaz/docquery/internal/vector"
)

// Config holds Qdrant connection settings.
type Config struct {
	Host   string
	Port   int
	APIKey string
	UseTLS bool
}

// Transport is the Qdrant-backed vector.Transport.
type Transport struct {
	conn        *grpc.ClientConn
	points      pb.PointsClient
	collections pb.CollectionsClient
}

// New dials Qdrant. The connection is lazy; failures surface on first use.
func New(cfg Config) (*Transport, error) {
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)

	creds := insecure.NewCredentials()
	if cfg.UseTLS {
		creds = credentials.NewTLS(&tls.Config{})
	}

	opts := []grpc.DialOption{grpc.WithTransportCredentials(creds)}
	if cfg.APIKey != "" {
		opts = append(opts, grpc.WithUnaryInterceptor(apiKeyInterceptor(cfg.APIKey)))
	}

	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("qdrant connect %s: %w", addr, err)
	}
	return &Transport{
		conn:        conn,
		points:      pb.NewPointsClient(conn),
		collections: pb.NewCollectionsClient(conn),
	}, nil
}

// apiKeyInterceptor attaches the Qdrant Cloud api-key header to every call.
func apiKeyInterceptor(key string) grpc.UnaryClientInterceptor {
	return func(ctx context.Context, method string, req, reply any, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
		ctx = metadata.AppendToOutgoingContext(ctx, "api-key", key)
		return invoker(ctx, method, req, reply, cc, opts...)
	}
}

func (t *Transport) CollectionExists(ctx context.Context, name string) (bool, error) {
	resp, err := t.collections.CollectionExists(ctx, &pb.CollectionExistsRequest{
		CollectionName: name,
	})
	if err != nil {
		return false, err
	}
	return resp.GetResult().GetExists(), nil
}

func (t *Transport) CreateCollection(ctx context.Context, name string, dimension uint64) error {
	_, err := t.collections.Create(ctx, &pb.CreateCollection{
		CollectionName: name,
		VectorsConfig: &pb.VectorsConfig{
			Config: &pb.VectorsConfig_Params{
				Params: &pb.VectorParams{
					Size:     dimension,
					Distance: pb.Distance_Cosine,
				},
			},
		},
	})
	return err
}

func (t *Transport) DeleteCollection(ctx context.Context, name string) error {
	_, err := t.collections.Delete(ctx, &pb.DeleteCollection{
		CollectionName: name,
	})
	return err
}

func (t *Transport) CollectionInfo(ctx context.Context, name string) (*vector.CollectionInfo, error) {
	resp, err := t.collections.Get(ctx, &pb.GetCollectionInfoRequest{
		CollectionName: name,
	})
	if err != nil {
		return nil, err
	}

	info := &vector.CollectionInfo{Name: name}
	result := resp.GetResult()
	if result == nil {
		return info, nil
	}
	info.PointCount = result.GetPointsCount()
	if params := result.GetConfig().GetParams().GetVectorsConfig().GetParams(); params != nil {
		info.Dimension = params.GetSize()
	}
	return info, nil
}

func (t *Transport) Upsert(ctx context.Context, collection string, points []vector.Point) error {
	pts := make([]*pb.PointStruct, len(points))
	for i, p := range points {
		payload := make(map[string]*pb.Value, len(p.Payload))
		for k, v := range p.Payload {
			payload[k] = &pb.Value{Kind: &pb.Value_StringValue{StringValue: v}}
		}
		pts[i] = &pb.PointStruct{
			Id:      &pb.PointId{PointIdOptions: &pb.PointId_Uuid{Uuid: p.ID}},
			Vectors: &pb.Vectors{VectorsOptions: &pb.Vectors_Vector{Vector: &pb.Vector{Data: p.Vector}}},
			Payload: payload,
		}
	}

	_, err := t.points.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: collection,
		Points:         pts,
	})
	return err
}

func (t *Transport) Search(ctx context.Context, collection string, vec []float32, topK uint64) ([]vector.SearchResult, error) {
	resp, err := t.points.Search(ctx, &pb.SearchPoints{
		CollectionName: collection,
		Vector:         vec,
		Limit:          topK,
		WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
	})
	if err != nil {
		return nil, err
	}

	results := make([]vector.SearchResult, len(resp.Result))
	for i, pt := range resp.Result {
		text := ""
		payload := make(map[string]string, len(pt.Payload))
		for k, v := range pt.Payload {
			if k == vector.PayloadTextKey {
				text = v.GetStringValue()
				continue
			}
			payload[k] = v.GetStringValue()
		}
		results[i] = vector.SearchResult{
			ID:      pt.Id.GetUuid(),
			Score:   pt.Score,
			Text:    text,
			Payload: payload,
		}
	}
	return results, nil
}

func (t *Transport) Close() error {
	return t.conn.Close()
}

var _ vector.Transport = (*Transport)(nil)
