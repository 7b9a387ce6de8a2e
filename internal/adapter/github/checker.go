package github

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/go-github/v53/github"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/sync/errgroup"

	"free-alt-finder/internal/common"
	"free-alt-finder/internal/domain"
)

// MaintenanceChecker 实现了 port.MaintenanceChecker 接口。
// 对指向 GitHub 的替代品检查仓库是否已归档、是否长期没有提交。
type MaintenanceChecker struct {
	client      *github.Client
	maxInactive time.Duration
	concurrency int
	nowFunc     func() time.Time
	logger      *zap.Logger
}

// NewMaintenanceChecker token 为空时匿名访问 (限制 60 次/小时)
func NewMaintenanceChecker(token string, maxInactiveDays, concurrency int, logger *zap.Logger) *MaintenanceChecker {
	var client *github.Client
	if token == "" {
		client = github.NewClient(nil)
	} else {
		ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
		client = github.NewClient(oauth2.NewClient(context.Background(), ts))
	}

	if concurrency <= 0 {
		concurrency = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &MaintenanceChecker{
		client:      client,
		maxInactive: time.Duration(maxInactiveDays) * 24 * time.Hour,
		concurrency: concurrency,
		nowFunc:     time.Now,
		logger:      logger,
	}
}

type verdict int

const (
	keep verdict = iota
	drop
)

// Filter 并发检查所有记录，保持原有顺序。
// 非 GitHub 链接和查询失败的记录保守地保留。
func (c *MaintenanceChecker) Filter(ctx context.Context, records []*domain.Alternative) ([]*domain.Alternative, error) {
	verdicts := make([]verdict, len(records))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency)
	for i, rec := range records {
		owner, name, ok := parseRepoURL(rec.URL)
		if !ok {
			continue
		}
		g.Go(func() error {
			v, reason, err := c.check(gctx, owner, name)
			if err != nil {
				c.logger.Warn("检查仓库失败，保留该项目",
					zap.String("repo", owner+"/"+name), zap.Error(err))
				return nil
			}
			if v == drop {
				c.logger.Info("过滤掉不再维护的项目",
					zap.String("name", rec.Name), zap.String("repo", owner+"/"+name), zap.String("reason", reason))
			}
			verdicts[i] = v
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return records, err
	}
	if err := ctx.Err(); err != nil {
		return records, err
	}

	filtered := make([]*domain.Alternative, 0, len(records))
	for i, rec := range records {
		if verdicts[i] == keep {
			filtered = append(filtered, rec)
		}
	}
	return filtered, nil
}

func (c *MaintenanceChecker) check(ctx context.Context, owner, name string) (verdict, string, error) {
	repo, err := common.DoValue(ctx, func() (*github.Repository, error) {
		repo, resp, err := c.client.Repositories.Get(ctx, owner, name)
		if err != nil && resp != nil && resp.StatusCode < http.StatusInternalServerError {
			return nil, common.Permanent(err)
		}
		return repo, err
	}, common.WithMaxRetries(2), common.WithInitialDelay(500*time.Millisecond))
	if err != nil {
		var ghErr *github.ErrorResponse
		if errors.As(err, &ghErr) && ghErr.Response != nil && ghErr.Response.StatusCode == http.StatusNotFound {
			return drop, "repository not found", nil
		}
		return keep, "", common.WrapError(common.ErrCodeGitHubAPI, "获取仓库信息失败", err)
	}

	if repo.GetArchived() {
		return drop, "archived", nil
	}
	if c.maxInactive > 0 && repo.PushedAt != nil {
		if idle := c.nowFunc().Sub(repo.GetPushedAt().Time); idle > c.maxInactive {
			return drop, fmt.Sprintf("no push for %d days", int(idle.Hours()/24)), nil
		}
	}
	return keep, "", nil
}

// parseRepoURL 从 https://github.com/owner/repo[/...] 中提取 owner 和 repo
func parseRepoURL(raw string) (owner, name string, ok bool) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", "", false
	}
	host := strings.ToLower(u.Host)
	if host != "github.com" && host != "www.github.com" {
		return "", "", false
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	return parts[0], strings.TrimSuffix(parts[1], ".git"), true
}
