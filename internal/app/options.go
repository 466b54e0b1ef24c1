package service

import (
	"time"

	"github.com/okian/forcedeck/internal/adapters/fetch"
	"github.com/okian/forcedeck/internal/domain/record"
	"github.com/okian/forcedeck/pkg/logger"
)

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithLogger sets the service logger.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithModifiedFrom sets the lower bound passed to test listings.
func WithModifiedFrom(t time.Time) Option {
	return func(s *Service) {
		s.modifiedFrom = t
	}
}

// WithMaxProfiles caps how many athletes are processed. Zero means all.
func WithMaxProfiles(n int) Option {
	return func(s *Service) {
		if n >= 0 {
			s.maxProfiles = n
		}
	}
}

// WithFetchOptions is applied to the orchestrator of every pipeline.
func WithFetchOptions(opts ...fetch.Option) Option {
	return func(s *Service) {
		s.fetchOpts = append(s.fetchOpts, opts...)
	}
}

// WithRecordOptions is applied to the assembler of every pipeline.
func WithRecordOptions(opts ...record.Option) Option {
	return func(s *Service) {
		s.recordOpts = append(s.recordOpts, opts...)
	}
}
