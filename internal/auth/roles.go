package auth

// permissions are strings like "job:submit", "stats:read", "admin:*"
const (
	PermJobSubmit  = "job:submit"
	PermJobReadOwn = "job:read_own"
	PermStatsRead  = "stats:read"
	PermAdminAll   = "admin:*"
)

const RoleUser = "user"

var roleToPerms = map[string][]string{
	RoleUser: {PermJobSubmit, PermJobReadOwn, PermStatsRead},
	"viewer": {PermJobReadOwn},
	"admin":  {PermJobSubmit, PermJobReadOwn, PermStatsRead, PermAdminAll},
}

func PermsForRoles(roles []string) map[string]struct{} {
	out := make(map[string]struct{}, 8)
	for _, r := range roles {
		if perms, ok := roleToPerms[r]; ok {
			for _, p := range perms {
				out[p] = struct{}{}
			}
		}
	}
	return out
}
