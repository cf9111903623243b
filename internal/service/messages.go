package service

// User-facing replies.
const (
	msgApology           = "申し訳ありません、処理中にエラーが発生しました。しばらくしてからもう一度お試しください。"
	msgNotFound          = "対象が見つかりませんでした。"
	msgAlreadyHandled    = "この操作は既に処理されています。"
	msgNotAllowed        = "この操作はできません。"
	msgChatRegistered    = "このチャットを登録しました。"
	msgChatAlreadyExists = "このチャットは既に登録されています。"

	msgTaskNeedsTitle    = "タスクの内容を読み取れませんでした。例: 「タスク @sam 資料作成」"
	msgTaskTitleTooLong  = "タスクの内容が長すぎます。200文字以内で入力してください。"
	msgTaskOnlyAssignee  = "担当者または依頼者のみ回答できます。"
	msgAskCustomDeadline = "期限の日付を入力してください。（例: 2/15、明日、金曜）"
	msgRetryDeadline     = "日付を読み取れませんでした。もう一度入力してください。（例: 2/15、明日、金曜）"
	msgDeadlineInPast    = "過去の日時は期限にできません。もう一度入力してください。"
	msgTaskDone          = "完了しました。"
	msgTaskNotStarted    = "まだ期限が設定されていません。"

	msgMeetingNeedsTime    = "日時を読み取れませんでした。例: 「明日15時に定例会議 @sam」"
	msgMeetingExpired      = "この会議の候補は期限切れです。もう一度指定してください。"
	msgMeetingOnlyOwner    = "主催者のみ選択できます。"
	msgAskLocation         = "会議の場所を入力してください。"
	msgCalendarUnavailable = "カレンダーが連携されていないため、オンライン会議を作成できませんでした。"
	msgReminderTooLate     = "開始まで時間がないため、リマインドを設定できませんでした。"
	msgNoReminder          = "リマインドは設定しません。"

	msgDraftSentPrivately = "下書きを個別チャットに送りました。内容を確認してください。"
	msgDraftNeedsPrivate  = "個別チャットに下書きを送れませんでした。先にボットとの個別チャットを開始してください。"
	msgDraftPosted        = "投稿しました。"
	msgDraftDiscarded     = "破棄しました。"
	msgDraftAskEdit       = "修正後の文章を送信してください。"
	msgDraftOtherEditing  = "編集中の下書きが他にあります。先にそちらを完了してください。"
	msgAIEmpty            = "回答を生成できませんでした。"
	msgReminderNotParsed  = "リマインドの内容を読み取れませんでした。日時と内容を指定してください。例: 「AI 明日9時に会議資料の提出をリマインドして」"
	msgImageUnsupported   = "現在の設定では画像生成を利用できません。"
	msgImageNeedsPrompt   = "生成する画像の内容を指定してください。例: 「画像生成 夕焼けの富士山」"
	msgReplyNeedsQuote    = "返信したいメッセージに返信する形で「返信作成」と送ってください。"

	msgRecurringAskFrequency = "定期タスクを作成します。頻度を入力してください。（毎日 / 毎週 / 毎月）"
	msgRecurringAskExclude   = "除外する曜日を入力してください。（例: 土日、なし）"
	msgRecurringAskWeekday   = "曜日を入力してください。（例: 月）"
	msgRecurringAskMonthDay  = "日にちを入力してください。（1〜31）"
	msgRecurringAskTime      = "時刻を入力してください。（例: 9:00、18時30分）"
	msgRecurringAskTitle     = "タスクの内容を入力してください。"
	msgRecurringAskAssignee  = "担当者を @ で指定してください。（例: @sam）"
	msgRecurringDone         = "完了を記録しました。"

	msgTranslationNone = "有効な翻訳セッションはありません。"
	msgTranslationEnd  = "翻訳を終了しました。"
)

// Retry prompts per recurring setup step.
var recurringRetry = map[recurringStep]string{
	stepFrequency: "頻度は「毎日」「毎週」「毎月」のいずれかで入力してください。",
	stepExclude:   "曜日を読み取れませんでした。「土日」「月,水」「なし」のように入力してください。",
	stepWeekday:   "曜日を読み取れませんでした。「月」〜「日」または 0〜6 で入力してください。",
	stepMonthDay:  "日にちは 1〜31 の数字で入力してください。",
	stepTime:      "時刻を読み取れませんでした。0:00〜23:59 の範囲で「9:00」のように入力してください。",
	stepTitle:     "タスクの内容を入力してください。",
	stepAssignee:  "担当者は「@名前」の形式で入力してください。",
}
