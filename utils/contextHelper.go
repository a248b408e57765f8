package utils

import (
	"context"

	"github.com/digitax/fbr_backend/appctx"
)

var (
	ContextKeyTenantId   = appctx.ContextKeyTenantId
	ContextKeyTenantName = appctx.ContextKeyTenantName
	ContextKeyUserId     = appctx.ContextKeyUserId
	ContextKeyUserEmail  = appctx.ContextKeyUserEmail
	ContextKeyUserName   = appctx.ContextKeyUserName
	ContextKeyUserRole   = appctx.ContextKeyUserRole
	ContextKeyRequestId  = appctx.ContextKeyRequestId
	ContextKeyIpAddress  = appctx.ContextKeyIpAddress
	ContextKeyUserAgent  = appctx.ContextKeyUserAgent

	ContextKeyIsAdmin         = appctx.ContextKeyIsAdmin
	ContextKeySkipTenantScope = appctx.ContextKeySkipTenantScope
)

func GetTenantIdFromContext(ctx context.Context) (string, bool) {
	return appctx.GetString(ctx, ContextKeyTenantId)
}

func GetTenantNameFromContext(ctx context.Context) (string, bool) {
	return appctx.GetString(ctx, ContextKeyTenantName)
}

func GetUserIdFromContext(ctx context.Context) (int, bool) {
	return appctx.GetInt(ctx, ContextKeyUserId)
}

func GetUserEmailFromContext(ctx context.Context) (string, bool) {
	return appctx.GetString(ctx, ContextKeyUserEmail)
}

func GetUserNameFromContext(ctx context.Context) (string, bool) {
	return appctx.GetString(ctx, ContextKeyUserName)
}

func GetUserRoleFromContext(ctx context.Context) (string, bool) {
	return appctx.GetString(ctx, ContextKeyUserRole)
}

func GetRequestIdFromContext(ctx context.Context) (string, bool) {
	return appctx.GetString(ctx, ContextKeyRequestId)
}

func GetIpAddressFromContext(ctx context.Context) (string, bool) {
	return appctx.GetString(ctx, ContextKeyIpAddress)
}

func GetUserAgentFromContext(ctx context.Context) (string, bool) {
	return appctx.GetString(ctx, ContextKeyUserAgent)
}

func SetTenantIdInContext(ctx context.Context, tenantId string) context.Context {
	return appctx.Set(ctx, ContextKeyTenantId, tenantId)
}

func SetTenantNameInContext(ctx context.Context, tenantName string) context.Context {
	return appctx.Set(ctx, ContextKeyTenantName, tenantName)
}

func SetUserIdInContext(ctx context.Context, userId int) context.Context {
	return appctx.Set(ctx, ContextKeyUserId, userId)
}

func SetUserEmailInContext(ctx context.Context, userEmail string) context.Context {
	return appctx.Set(ctx, ContextKeyUserEmail, userEmail)
}

func SetUserNameInContext(ctx context.Context, userName string) context.Context {
	return appctx.Set(ctx, ContextKeyUserName, userName)
}

func SetUserRoleInContext(ctx context.Context, userRole string) context.Context {
	return appctx.Set(ctx, ContextKeyUserRole, userRole)
}

func SetRequestIdInContext(ctx context.Context, requestId string) context.Context {
	return appctx.Set(ctx, ContextKeyRequestId, requestId)
}

func SetIpAddressInContext(ctx context.Context, ipAddress string) context.Context {
	return appctx.Set(ctx, ContextKeyIpAddress, ipAddress)
}

func SetUserAgentInContext(ctx context.Context, userAgent string) context.Context {
	return appctx.Set(ctx, ContextKeyUserAgent, userAgent)
}

func GetIsAdminFromContext(ctx context.Context) (bool, bool) {
	return appctx.GetBool(ctx, ContextKeyIsAdmin)
}

func SetIsAdminInContext(ctx context.Context, isAdmin bool) context.Context {
	return appctx.Set(ctx, ContextKeyIsAdmin, isAdmin)
}

func GetSkipTenantScopeFromContext(ctx context.Context) (bool, bool) {
	return appctx.GetBool(ctx, ContextKeySkipTenantScope)
}

func SetSkipTenantScopeInContext(ctx context.Context, skip bool) context.Context {
	return appctx.Set(ctx, ContextKeySkipTenantScope, skip)
}
