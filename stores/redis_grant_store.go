package stores

import (
	"context"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/oarkflow/wsauthz"
)

const (
	rolePrefix = "role:"
	permPrefix = "perm:"
)

// RedisGrantStore stores the grants of one identity in one workspace as a
// Redis set (key: wsgrant:{len(workspaceID)}:{workspaceID}:{identityID}).
// Members are "role:<name>" or "perm:<resource>:<action>".
type RedisGrantStore struct {
	client *redis.Client
	prefix string
}

func NewRedisGrantStore(client *redis.Client) *RedisGrantStore {
	return &RedisGrantStore{client: client, prefix: "wsgrant"}
}

// key length-prefixes the workspace so a ':' inside either ID cannot move
// the boundary between them.
func (r *RedisGrantStore) key(workspaceID, identityID string) string {
	return fmt.Sprintf("%s:%d:%s:%s", r.prefix, len(workspaceID), workspaceID, identityID)
}

func (r *RedisGrantStore) AssignRole(ctx context.Context, identityID, workspaceID, role string) error {
	return r.client.SAdd(ctx, r.key(workspaceID, identityID), rolePrefix+role).Err()
}

func (r *RedisGrantStore) RevokeRole(ctx context.Context, identityID, workspaceID, role string) error {
	return r.client.SRem(ctx, r.key(workspaceID, identityID), rolePrefix+role).Err()
}

func (r *RedisGrantStore) GrantAction(ctx context.Context, identityID, workspaceID string, resource authz.Resource, action authz.Action) error {
	return r.client.SAdd(ctx, r.key(workspaceID, identityID), permPrefix+authz.FormatPermission(resource, action)).Err()
}

func (r *RedisGrantStore) RevokeAction(ctx context.Context, identityID, workspaceID string, resource authz.Resource, action authz.Action) error {
	return r.client.SRem(ctx, r.key(workspaceID, identityID), permPrefix+authz.FormatPermission(resource, action)).Err()
}

// RemoveMember drops every grant of identityID in workspaceID.
func (r *RedisGrantStore) RemoveMember(ctx context.Context, identityID, workspaceID string) error {
	return r.client.Del(ctx, r.key(workspaceID, identityID)).Err()
}

func (r *RedisGrantStore) Resolve(ctx context.Context, identityID, workspaceID string) ([]authz.RoleRef, error) {
	members, err := r.client.SMembers(ctx, r.key(workspaceID, identityID)).Result()
	if err != nil {
		return nil, authz.ResolutionFailed(err)
	}
	grants := make([]authz.Grant, 0, len(members))
	for _, m := range members {
		g := authz.Grant{IdentityID: identityID, WorkspaceID: workspaceID}
		switch {
		case strings.HasPrefix(m, rolePrefix):
			g.Role = strings.TrimPrefix(m, rolePrefix)
		case strings.HasPrefix(m, permPrefix):
			res, act, err := authz.ParsePermission(strings.TrimPrefix(m, permPrefix))
			if err != nil {
				continue
			}
			g.Resource, g.Action = res, act
		default:
			continue
		}
		grants = append(grants, g)
	}
	return authz.RefsFromGrants(grants), nil
}
