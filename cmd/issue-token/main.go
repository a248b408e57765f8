package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/digitax/fbr_backend/utils"
)

// Mints a JWT for service-to-service calls against the API, signed with the
// same API_SECRET the server validates with. Lifespan comes from
// TOKEN_HOUR_LIFESPAN (default 24h).
func main() {
	userID := flag.Int("user-id", 0, "Actor user id recorded on backup/audit rows (required).")
	email := flag.String("email", "", "Actor email.")
	name := flag.String("name", "", "Actor display name.")
	role := flag.String("role", "service", "Role claim; \"admin\" unlocks the internal ops endpoints.")
	tenantID := flag.String("tenant-id", "", "Tenant the token is scoped to (required).")
	tenantName := flag.String("tenant-name", "", "Tenant display name.")
	flag.Parse()

	if *userID <= 0 {
		fmt.Fprintln(os.Stderr, "-user-id is required")
		os.Exit(1)
	}
	tenant := strings.TrimSpace(*tenantID)
	if tenant == "" {
		fmt.Fprintln(os.Stderr, "-tenant-id is required")
		os.Exit(1)
	}

	token, err := utils.JwtGenerate(*userID, *email, *name, *role, tenant, *tenantName)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to sign token: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(token)
}
