// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package kvs talks to Kinesis Video Streams: endpoint discovery through the
// control plane and PutMedia on the data plane.
package kvs

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/kinesisvideo"
	"github.com/aws/aws-sdk-go-v2/service/kinesisvideo/types"
)

// endpointAPI is the subset of the kinesisvideo client used here.
type endpointAPI interface {
	GetDataEndpoint(ctx context.Context, in *kinesisvideo.GetDataEndpointInput, optFns ...func(*kinesisvideo.Options)) (*kinesisvideo.GetDataEndpointOutput, error)
}

// Frontend resolves PutMedia data endpoints.
type Frontend struct {
	api endpointAPI
}

// NewFrontend returns a frontend using cfg's region and credentials.
func NewFrontend(cfg aws.Config) *Frontend {
	return &Frontend{api: kinesisvideo.NewFromConfig(cfg)}
}

// GetDataEndpoint returns the PUT_MEDIA endpoint of streamName.
func (f *Frontend) GetDataEndpoint(ctx context.Context, streamName string) (string, error) {
	out, err := f.api.GetDataEndpoint(ctx, &kinesisvideo.GetDataEndpointInput{
		StreamName: aws.String(streamName),
		APIName:    types.APINamePutMedia,
	})
	if err != nil {
		return "", fmt.Errorf("kvs: get data endpoint for %s: %w", streamName, err)
	}
	if out.DataEndpoint == nil || *out.DataEndpoint == "" {
		return "", errors.New("kvs: empty data endpoint")
	}
	return *out.DataEndpoint, nil
}
