package api

// Fully-qualified procedure names, served under the mapchat.v1 package.
const (
	AuthServiceSignInProcedure             = "/mapchat.v1.AuthService/SignIn"
	AuthServiceSignOutProcedure            = "/mapchat.v1.AuthService/SignOut"
	AuthServiceDeleteAccountProcedure      = "/mapchat.v1.AuthService/DeleteAccount"
	AuthServiceRefreshTokenProcedure       = "/mapchat.v1.AuthService/RefreshToken"
	AuthServiceGetMeProcedure              = "/mapchat.v1.AuthService/GetMe"
	AuthServiceUpdateOnlineStatusProcedure = "/mapchat.v1.AuthService/UpdateOnlineStatus"
	AuthServiceSetGhostModeProcedure       = "/mapchat.v1.AuthService/SetGhostMode"
	AuthServiceSetBlockedProcedure         = "/mapchat.v1.AuthService/SetBlocked"

	LocationServiceReportDeviceStateProcedure  = "/mapchat.v1.LocationService/ReportDeviceState"
	LocationServiceRequestPermissionProcedure  = "/mapchat.v1.LocationService/RequestPermission"
	LocationServiceStartTrackingProcedure      = "/mapchat.v1.LocationService/StartTracking"
	LocationServiceStopTrackingProcedure       = "/mapchat.v1.LocationService/StopTracking"
	LocationServicePushFixProcedure            = "/mapchat.v1.LocationService/PushFix"
	LocationServiceGetCurrentLocationProcedure = "/mapchat.v1.LocationService/GetCurrentLocation"
	LocationServiceUpdateLocationProcedure     = "/mapchat.v1.LocationService/UpdateLocation"
	LocationServiceGetGroupLocationsProcedure  = "/mapchat.v1.LocationService/GetGroupLocations"
	LocationServiceWatchLocationsProcedure     = "/mapchat.v1.LocationService/WatchLocations"

	TripServiceCreateTripProcedure      = "/mapchat.v1.TripService/CreateTrip"
	TripServiceUpdateTripProcedure      = "/mapchat.v1.TripService/UpdateTrip"
	TripServiceDeleteTripProcedure      = "/mapchat.v1.TripService/DeleteTrip"
	TripServiceGetTripProcedure         = "/mapchat.v1.TripService/GetTrip"
	TripServiceListTripsProcedure       = "/mapchat.v1.TripService/ListTrips"
	TripServiceListActiveTripsProcedure = "/mapchat.v1.TripService/ListActiveTrips"
	TripServiceWatchTripProcedure       = "/mapchat.v1.TripService/WatchTrip"
	TripServiceWatchTripsProcedure      = "/mapchat.v1.TripService/WatchTrips"

	GroupServiceCreateGroupProcedure    = "/mapchat.v1.GroupService/CreateGroup"
	GroupServiceUpdateGroupProcedure    = "/mapchat.v1.GroupService/UpdateGroup"
	GroupServiceDeleteGroupProcedure    = "/mapchat.v1.GroupService/DeleteGroup"
	GroupServiceAddMemberProcedure      = "/mapchat.v1.GroupService/AddMember"
	GroupServiceRemoveMemberProcedure   = "/mapchat.v1.GroupService/RemoveMember"
	GroupServicePromoteToAdminProcedure = "/mapchat.v1.GroupService/PromoteToAdmin"
	GroupServiceGetGroupProcedure       = "/mapchat.v1.GroupService/GetGroup"
	GroupServiceListGroupsProcedure     = "/mapchat.v1.GroupService/ListGroups"
	GroupServiceWatchGroupProcedure     = "/mapchat.v1.GroupService/WatchGroup"
	GroupServiceWatchGroupsProcedure    = "/mapchat.v1.GroupService/WatchGroups"

	ChatServiceStartConversationProcedure = "/mapchat.v1.ChatService/StartConversation"
	ChatServiceListConversationsProcedure = "/mapchat.v1.ChatService/ListConversations"
	ChatServiceSendMessageProcedure       = "/mapchat.v1.ChatService/SendMessage"
	ChatServiceSendMediaProcedure         = "/mapchat.v1.ChatService/SendMedia"
	ChatServiceShareLocationProcedure     = "/mapchat.v1.ChatService/ShareLocation"
	ChatServiceEditMessageProcedure       = "/mapchat.v1.ChatService/EditMessage"
	ChatServiceDeleteMessageProcedure     = "/mapchat.v1.ChatService/DeleteMessage"
	ChatServiceMarkReadProcedure          = "/mapchat.v1.ChatService/MarkRead"
	ChatServiceFetchMessagesProcedure     = "/mapchat.v1.ChatService/FetchMessages"
	ChatServiceWatchMessagesProcedure     = "/mapchat.v1.ChatService/WatchMessages"
)

// PublicProcedures can be called without a session token.
var PublicProcedures = []string{
	AuthServiceSignInProcedure,
}
