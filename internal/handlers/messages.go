package handlers

const (
	msgUserCreated            = "Account created. Check your email for the verification code."
	msgAccountVerified        = "Account verified. You can log in now."
	msgOTPResent              = "A new verification code has been sent to your email."
	msgPasswordResetSent      = "A verification code has been sent to your email. Use it to set a new password."
	msgPasswordChanged        = "Password changed."
	msgLoggedOut              = "Logged out."
	msgPhotoUpdated           = "Profile photo updated."
	msgPhotoRemoved           = "Profile photo removed."
	msgUserNotFound           = "User does not exist."
	msgPhotoNotFound          = "Profile photo not set."
	msgEmailDuplication       = "User with this email already exists."
	msgAccountAlreadyVerified = "This account is already verified, please log in."
	msgInvalidCredentials     = "Invalid credentials."
	msgTokenExpired           = "Token is expired."
	msgUnActivated            = "Please verify your account or request a new verification code."
	msgPermissionDenied       = "You don't have permission to perform this action."
	msgPasswordsDidNotMatch   = "The passwords did not match."
	msgUnsupportedPhoto       = "Photo must be a jpg, jpeg, png, gif or webp image."
	msgPhotoTooLarge          = "Photo exceeds the maximum upload size."
	msgInvalidData            = "Invalid data."
	msgAccountDeleted         = "Your account has been deleted, please register again."
	msgInvalidOTP             = "Verification code is invalid, %d attempts left before the account is deleted."
	msgTooManyRequests        = "Too many requests."
)
