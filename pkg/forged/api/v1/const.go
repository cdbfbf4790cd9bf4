package api_v1

const FailedAuthenticationMsg = "failed authentication"
