package main

import (
	"context"
)

// Infrastructure classifies infrastructure-as-code files in repository, or
// across the caller's repositories when repository is empty.
func (s *Scanner) Infrastructure(ctx context.Context, cred Credential, repository string, force bool) (ScanResult[ClassifiedFile], error) {
	key := scanKey(cred.Principal, repository)
	return cachedScan(s, s.infrastructure, "infrastructure", key, force, func() ([]ClassifiedFile, error) {
		if repository == "" {
			return aggregate(ctx, s, cred, "infrastructure", s.classifyInfrastructure(cred))
		}
		return s.classifyInfrastructure(cred)(ctx, repository)
	})
}

func (s *Scanner) classifyInfrastructure(cred Credential) func(context.Context, string) ([]ClassifiedFile, error) {
	return func(ctx context.Context, repository string) ([]ClassifiedFile, error) {
		return ClassifyRepositoryFiles(ctx, s.client, cred, repository, InfrastructureRules)
	}
}
