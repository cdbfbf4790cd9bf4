package api_v1_deploy

import (
	"net/http"
)

var StatusCodes = []int{
	http.StatusOK,
	http.StatusAccepted,
	http.StatusBadRequest,
	http.StatusUnauthorized,
	http.StatusConflict,
	http.StatusInternalServerError,
	http.StatusServiceUnavailable,
}
