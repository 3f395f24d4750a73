package i18n

import "strings"

var translations = map[string]string{
	"invalid request":             "درخواست نامعتبر است",
	"missing authorization token": "توکن احراز هویت ارسال نشده است",
	"invalid token":               "توکن نامعتبر است",
	"unauthorized":                "دسترسی غیرمجاز",
	"internal server error":       "خطای داخلی سرور",
	"not found":                   "یافت نشد",
	"websocket upgrade failed":    "خطا در برقراری اتصال وب سوکت",
	"rate limiter error":          "خطا در محدودسازی درخواست ها",
	"rate limit exceeded":         "تعداد درخواست ها بیش از حد مجاز است",
	"invalid chat id":             "شناسه گفتگو نامعتبر است",
	"invalid message id":          "شناسه پیام نامعتبر است",
	"invalid invite id":           "شناسه لینک دعوت نامعتبر است",
	"invalid user id":             "شناسه کاربر نامعتبر است",

	"username must be between 3 and 32 characters":                "نام کاربری باید بین ۳ تا ۳۲ کاراکتر باشد",
	"username can only contain letters, numbers, and underscores": "نام کاربری فقط می تواند شامل حروف، اعداد و زیرخط باشد",
	"password must be at least 6 characters":                      "رمز عبور باید حداقل ۶ کاراکتر باشد",
	"username already exists":                                     "این نام کاربری قبلا ثبت شده است",
	"invalid username or password":                                "نام کاربری یا رمز عبور اشتباه است",

	"chat not found":                        "گفتگو یافت نشد",
	"user not found":                        "کاربر یافت نشد",
	"not a participant":                     "شما عضو این گفتگو نیستید",
	"not a group chat":                      "این گفتگو گروهی نیست",
	"cannot start a chat with yourself":     "نمی توانید با خودتان گفتگو ایجاد کنید",
	"group name is required":                "نام گروه الزامی است",
	"group name is too long":                "نام گروه بیش از حد طولانی است",
	"a group needs at least 2 other members": "گروه باید حداقل ۲ عضو دیگر داشته باشد",
	"only the group admin can do this":      "فقط مدیر گروه مجاز به این کار است",
	"only the admin can remove members":     "فقط مدیر گروه می تواند اعضا را حذف کند",
	"the admin cannot leave the group":      "مدیر گروه نمی تواند گروه را ترک کند",
	"user is already a member":              "کاربر از قبل عضو گروه است",
	"user is not a member":                  "کاربر عضو گروه نیست",

	"message not found":                                "پیام یافت نشد",
	"content is required":                              "متن پیام الزامی است",
	"chat_id is required":                              "شناسه گفتگو الزامی است",
	"user_id is required":                              "شناسه کاربر الزامی است",
	"code is required":                                 "کد دعوت الزامی است",
	"reply target must be a message in the same chat":  "پیام پاسخ داده شده باید در همین گفتگو باشد",
	"can only edit own messages":                       "فقط پیام های خودتان قابل ویرایش است",
	"can only delete own messages":                     "فقط پیام های خودتان قابل حذف است",
	"view-once messages cannot be edited":              "پیام های یک بار مصرف قابل ویرایش نیستند",
	"edit window has passed":                           "مهلت ویرایش پیام به پایان رسیده است",
	"message can no longer be edited":                  "این پیام دیگر قابل ویرایش نیست",
	"scope must be sender or everyone":                 "دامنه حذف باید sender یا everyone باشد",
	"message already deleted":                          "پیام قبلا حذف شده است",
	"message has been deleted":                         "پیام حذف شده است",
	"message is deleted":                               "پیام حذف شده است",
	"message is no longer available":                   "پیام دیگر در دسترس نیست",
	"only the sender can view edit history":            "فقط فرستنده می تواند تاریخچه ویرایش را ببیند",
	"not a view-once message":                          "این پیام یک بار مصرف نیست",
	"cannot open your own view-once message":           "نمی توانید پیام یک بار مصرف خودتان را باز کنید",
	"message already viewed":                           "این پیام قبلا مشاهده شده است",
	"invite links are only available for group chats": "لینک دعوت فقط برای گروه ها در دسترس است",
	"ttl must be positive":                             "مدت اعتبار باید مثبت باشد",
	"max_uses must be at least 1":                      "حداکثر استفاده باید حداقل ۱ باشد",
	"could not generate a unique invite code":          "تولید کد دعوت یکتا ممکن نشد",
	"invite link not found":                            "لینک دعوت یافت نشد",
	"invite link has expired":                          "لینک دعوت منقضی شده است",
	"already a member of this chat":                    "شما از قبل عضو این گروه هستید",
	"invite link usage limit reached":                  "ظرفیت استفاده از لینک دعوت تکمیل شده است",
	"invite link could not be redeemed":                "استفاده از لینک دعوت ممکن نشد",
	"only the admin or the link creator can revoke it": "فقط مدیر گروه یا سازنده لینک می تواند آن را لغو کند",

	"new message":            "پیام جدید",
	"new message from ":      "پیام جدید از ",
	"you have a new message": "شما یک پیام جدید دارید",
}

var prefixTranslations = map[string]string{
	"failed to hash password:":   "خطا در پردازش رمز عبور",
	"failed to register user:":   "خطا در ثبت نام کاربر",
	"failed to query user:":      "خطا در دریافت اطلاعات کاربر",
	"failed to sign token:":      "خطا در امضای توکن",
	"failed to parse token:":     "توکن نامعتبر است",
	"unexpected signing method:": "روش امضای توکن نامعتبر است",
}

// Translate returns the Persian text for message, or message unchanged
// when no translation is known.
func Translate(message string) string {
	if translated, ok := translations[message]; ok {
		return translated
	}
	for prefix, translated := range prefixTranslations {
		if strings.HasPrefix(message, prefix) {
			return translated
		}
	}
	return message
}

// ForLocale returns Translate for "fa" and the identity function otherwise.
func ForLocale(locale string) func(string) string {
	if strings.EqualFold(strings.TrimSpace(locale), "fa") {
		return Translate
	}
	return func(message string) string { return message }
}
